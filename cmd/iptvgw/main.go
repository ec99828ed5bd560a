// Command iptvgw runs the IPTV gateway: a pool of browser-backed tuners
// fronted by an M3U playlist / MPEG-TS stream HTTP surface, a VOD provider proxy, and a
// DirecTV-style TVE guide, per internal/config's environment-driven settings.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/snapetech/iptvgw/internal/browser"
	"github.com/snapetech/iptvgw/internal/cache"
	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/config"
	"github.com/snapetech/iptvgw/internal/epg"
	"github.com/snapetech/iptvgw/internal/gateway"
	"github.com/snapetech/iptvgw/internal/httpclient"
	"github.com/snapetech/iptvgw/internal/provider"
	"github.com/snapetech/iptvgw/internal/segmentcache"
	"github.com/snapetech/iptvgw/internal/tuner"
	"github.com/snapetech/iptvgw/internal/tunerpool"
)

func main() {
	_ = config.LoadEnvFile(".env")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.New()
	catalogPath := cache.JSONPath(cfg.CacheDir, "channels")
	if err := cat.Load(catalogPath); err != nil {
		log.Printf("catalog: load %s: %v", catalogPath, err)
	}
	log.Printf("catalog: %d channels loaded", len(cat.Snapshot()))

	b, err := browser.New(ctx, browser.Options{
		DebugPort:  cfg.DebugPort,
		ProfileDir: cfg.ProfileDir,
		Headless:   true,
	})
	if err != nil {
		log.Fatalf("browser: %v", err)
	}
	defer b.Close()

	pool := tunerpool.New(tunerpool.Config{
		TuneJoinWindow: cfg.TuneJoinWindow,
		SurfWaitWindow: cfg.SurfWaitWindow,
		IdleTimeout:    cfg.IdleTimeout,
		IdleReapPeriod: cfg.IdleReapPeriod,
	}, b)

	newTunerConfig := func(id int) tuner.Config {
		return tuner.Config{
			ID:            id,
			DisplayNum:    cfg.DisplayBase + id,
			DebugPort:     cfg.DebugPort,
			PlayerBaseURL: cfg.PlayerBaseURL,
			GuidePath:     cfg.GuidePath,
			Encoder: tuner.EncoderConfig{
				Width:              cfg.CaptureWidth,
				Height:             cfg.CaptureHeight,
				FPS:                cfg.CaptureFPS,
				VideoBitrateK:      cfg.VideoBitrateK,
				AudioBitrateK:      cfg.AudioBitrateK,
				HWAccel:            cfg.HWAccel,
				IdleTimeout:        cfg.EncoderIdleTimeout,
				RestartAttemptsCap: cfg.EncoderRestartCap,
			},
		}
	}
	if errs := pool.Initialize(ctx, cfg.TunerCount, newTunerConfig); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("tunerpool: init: %v", e)
		}
	}
	defer pool.Shutdown()

	registry := provider.NewRegistry(provider.ManagerConfig{
		RefreshInterval:   cfg.RefreshInterval,
		InactivityTimeout: cfg.InactivityTimeout,
		RefreshTick:       cfg.RefreshTickPeriod,
		ExtractTimeout:    cfg.ExtractTimeout,
	})
	registerProvidersFromEnv(registry)
	defer registry.Shutdown()

	segments := segmentcache.New(cfg.SegmentCacheSize, cfg.SegmentCacheTTL, cfg.SegmentJanitorTick)
	defer segments.Stop()

	streamClient := httpclient.ForStreaming()
	prefetch := segmentcache.NewPrefetcher(segments, func(ctx context.Context, upstreamURL string, headers map[string]string) ([]byte, string, error) {
		return gateway.FetchSegment(ctx, streamClient, upstreamURL, headers)
	}, cfg.PrefetchDelay)

	guide := epg.New(epg.Config{
		PlayerBaseURL:   cfg.PlayerBaseURL,
		GuidePath:       cfg.GuidePath,
		RefreshInterval: cfg.EPGRefreshInterval,
		CacheDir:        cfg.CacheDir,
	}, b)
	if err := guide.LoadCache(); err != nil {
		log.Printf("epg: load cache: %v", err)
	}
	guide.Start(ctx, nil)
	defer guide.Stop()

	srv := &gateway.Server{
		Addr:      cfg.Addr,
		BaseURL:   cfg.BaseURL,
		Pool:      pool,
		Catalog:   cat,
		Providers: registry,
		Segments:  segments,
		Prefetch:  prefetch,
		EPG:       guide,
		EPGWindow: cfg.EPGWindow,
		Client:    streamClient,
	}

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("gateway: %v", err)
	}

	if err := cat.Save(catalogPath); err != nil {
		log.Printf("catalog: save %s: %v", catalogPath, err)
	}
}

// registerProvidersFromEnv wires an Xtream-Codes VOD provider when its
// credentials are present in the environment; additional provider kinds
// register here the same way as they're added. IPTVGW_XTREAM_BASE_URL may
// list several comma-separated mirror base URLs for the same account; the
// first that actually authenticates (per provider.FirstWorkingPlayerAPI) is
// the one registered.
func registerProvidersFromEnv(registry *provider.Registry) {
	rawBases := os.Getenv("IPTVGW_XTREAM_BASE_URL")
	user := os.Getenv("IPTVGW_XTREAM_USER")
	pass := os.Getenv("IPTVGW_XTREAM_PASS")
	if rawBases == "" || user == "" || pass == "" {
		return
	}
	var bases []string
	for _, b := range strings.Split(rawBases, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bases = append(bases, b)
		}
	}
	if len(bases) == 0 {
		return
	}

	base := bases[0]
	if len(bases) > 1 {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if working := provider.FirstWorkingPlayerAPI(ctx, bases, user, pass, nil); working != "" {
			base = working
		} else {
			log.Printf("provider: xtream: no mirror base URL authenticated, defaulting to %s", base)
		}
	}

	id := os.Getenv("IPTVGW_XTREAM_ID")
	if id == "" {
		id = "xtream"
	}
	registry.Register(provider.NewXtreamProvider(id, base, user, pass))
	log.Printf("provider: registered xtream provider %q (%s)", id, base)
}
