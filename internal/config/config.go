// Package config loads gateway settings from the environment.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds tuner pool, VOD proxy, and EPG settings. Load from environment.
type Config struct {
	// HTTP
	Addr    string // e.g. ":5004"
	BaseURL string // e.g. http://192.168.1.10:5004, used to build absolute stream URLs

	// Tuner pool
	TunerCount     int           // number of concurrent tuners (pool size)
	IdleTimeout    time.Duration // streaming->free release after clientCount=0 for this long
	IdleReapPeriod time.Duration // idle reaper sweep period
	TuneJoinWindow time.Duration // bound on joining an in-progress tune
	SurfWaitWindow time.Duration // bound on waiting out a surf-supersession

	// Browser / capture
	DebugPort      int    // remote-debugging port base for the shared browser
	DisplayBase    int    // virtual display number base; tuner i owns display DisplayBase+i
	ProfileDir     string // browser persistent profile directory (cookies/auth)
	CaptureWidth   int
	CaptureHeight  int
	CaptureFPS     int
	HWAccel        string // "", "vaapi", "nvenc" — hardware encoder mode
	VideoBitrateK  int    // kbps
	AudioBitrateK  int    // kbps
	EncoderRestartCap int
	EncoderIdleTimeout time.Duration

	// VOD provider
	RefreshInterval    time.Duration // re-extract before upstream URL expiry (~60s)
	InactivityTimeout  time.Duration // drop StreamEntry after this much inactivity (~5m)
	RefreshTickPeriod  time.Duration // per-entry refresh timer tick (~15s)
	ExtractTimeout     time.Duration // provider ExtractStreamUrl bound
	SegmentCacheSize   int           // bounded LRU size (~600)
	SegmentCacheTTL    time.Duration // TTL per entry (~15m)
	SegmentJanitorTick time.Duration // cache sweep period (~60s)
	PrefetchDelay      time.Duration // inter-segment prefetch delay (~20ms)

	// EPG
	EPGRefreshInterval time.Duration // hours, hydration cadence
	EPGWindow          time.Duration // programme emission window (default 24h)
	CacheDir           string        // local JSON cache directory

	// Upstream web player (the DRM-protected site the tuners drive)
	PlayerBaseURL string // e.g. https://tv.example.com
	GuidePath     string // path of the guide/channel-list view, e.g. /guide
}

func Load() *Config {
	c := &Config{
		Addr:               getEnv("IPTVGW_ADDR", ":5004"),
		BaseURL:             os.Getenv("IPTVGW_BASE_URL"),
		TunerCount:          getEnvInt("IPTVGW_TUNER_COUNT", 2),
		IdleTimeout:         getEnvDuration("IPTVGW_IDLE_TIMEOUT", 30*time.Second),
		IdleReapPeriod:      getEnvDuration("IPTVGW_IDLE_REAP_PERIOD", 60*time.Second),
		TuneJoinWindow:      getEnvDuration("IPTVGW_TUNE_JOIN_WINDOW", 30*time.Second),
		SurfWaitWindow:      getEnvDuration("IPTVGW_SURF_WAIT_WINDOW", 35*time.Second),
		DebugPort:           getEnvInt("IPTVGW_DEBUG_PORT", 9222),
		DisplayBase:         getEnvInt("IPTVGW_DISPLAY_BASE", 90),
		ProfileDir:          getEnv("IPTVGW_PROFILE_DIR", "/var/lib/iptvgw/profile"),
		CaptureWidth:        getEnvInt("IPTVGW_CAPTURE_WIDTH", 1280),
		CaptureHeight:       getEnvInt("IPTVGW_CAPTURE_HEIGHT", 720),
		CaptureFPS:          getEnvInt("IPTVGW_CAPTURE_FPS", 30),
		HWAccel:             getEnv("IPTVGW_HWACCEL", ""),
		VideoBitrateK:       getEnvInt("IPTVGW_VIDEO_BITRATE_K", 3000),
		AudioBitrateK:       getEnvInt("IPTVGW_AUDIO_BITRATE_K", 160),
		EncoderRestartCap:   getEnvInt("IPTVGW_ENCODER_RESTART_CAP", 5),
		EncoderIdleTimeout:  getEnvDuration("IPTVGW_ENCODER_IDLE_TIMEOUT", 30*time.Second),
		RefreshInterval:     getEnvDuration("IPTVGW_VOD_REFRESH_INTERVAL", 60*time.Second),
		InactivityTimeout:   getEnvDuration("IPTVGW_VOD_INACTIVITY_TIMEOUT", 5*time.Minute),
		RefreshTickPeriod:   getEnvDuration("IPTVGW_VOD_REFRESH_TICK", 15*time.Second),
		ExtractTimeout:      getEnvDuration("IPTVGW_VOD_EXTRACT_TIMEOUT", 45*time.Second),
		SegmentCacheSize:    getEnvInt("IPTVGW_SEGMENT_CACHE_SIZE", 600),
		SegmentCacheTTL:     getEnvDuration("IPTVGW_SEGMENT_CACHE_TTL", 15*time.Minute),
		SegmentJanitorTick:  getEnvDuration("IPTVGW_SEGMENT_JANITOR_TICK", 60*time.Second),
		PrefetchDelay:       getEnvDuration("IPTVGW_PREFETCH_DELAY", 20*time.Millisecond),
		EPGRefreshInterval:  getEnvDuration("IPTVGW_EPG_REFRESH_INTERVAL", 6*time.Hour),
		EPGWindow:           getEnvDuration("IPTVGW_EPG_WINDOW", 24*time.Hour),
		CacheDir:            getEnv("IPTVGW_CACHE_DIR", "./var/cache"),
		PlayerBaseURL:       os.Getenv("IPTVGW_PLAYER_BASE_URL"),
		GuidePath:           getEnv("IPTVGW_GUIDE_PATH", "/guide"),
	}
	if c.TunerCount <= 0 {
		c.TunerCount = 2
	}
	if c.SegmentCacheSize <= 0 {
		c.SegmentCacheSize = 600
	}
	return c
}

// LoadEnvFile parses a shell-export-style ".env" file ("export KEY=VALUE" or
// "KEY=VALUE" lines) and sets each var into the process environment, same
// convention as the supervisor's env-file loader. Missing files are not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || os.Getenv(k) != "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return sc.Err()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// CachePath joins the configured cache directory with a relative file name,
// creating parent directories as needed is left to callers (see internal/cache).
func (c *Config) CachePath(name string) string {
	return filepath.Join(c.CacheDir, name)
}
