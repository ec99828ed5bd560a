// Package gateway wires the Tuner Pool, VOD Provider Core, and EPG Ingestor
// up to the HTTP surface described in the system's external interfaces: live
// channel streaming, VOD playlist/segment proxying, and DirecTV-style TVE
// guide endpoints, plus the operational /metrics and /healthz handlers.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/epg"
	"github.com/snapetech/iptvgw/internal/httpclient"
	"github.com/snapetech/iptvgw/internal/metrics"
	"github.com/snapetech/iptvgw/internal/provider"
	"github.com/snapetech/iptvgw/internal/segmentcache"
	"github.com/snapetech/iptvgw/internal/tunerpool"
)

// Server holds every component the HTTP surface fronts. Fields are set by
// the caller (cmd/iptvgw) before Run.
type Server struct {
	Addr    string
	BaseURL string // e.g. http://192.168.1.10:5004, used to build absolute stream URLs

	Pool      *tunerpool.Pool
	Catalog   *catalog.Catalog
	Providers *provider.Registry
	Segments  *segmentcache.Cache
	Prefetch  *segmentcache.Prefetcher
	EPG       *epg.Ingestor
	EPGWindow time.Duration // programme emission window for /tve/directv/epg.xml default

	Client *http.Client // upstream fetch client for VOD playlists/segments; ForStreaming() if nil
}

// Run builds the route table and blocks until ctx is cancelled or the
// server fails to start, mirroring the teacher's listen/select/Shutdown
// sequence in internal/tuner/server.go.
func (s *Server) Run(ctx context.Context) error {
	if s.Client == nil {
		s.Client = httpclient.ForStreaming()
	}

	r := chi.NewRouter()

	r.Get("/playlist.m3u", s.servePlaylistM3U)
	r.Get("/stream/{channelId}", s.serveStream)
	r.Get("/tuners", s.serveStatus)
	r.Get("/stats", s.serveStatus)
	r.Post("/tuner/{id}/release", s.serveRelease)
	r.Post("/tuner/{id}/force-release", s.serveForceRelease)

	r.Get("/vod/{provider}/{id}/stream", s.serveVODStream)
	r.Get("/vod/{provider}/segment/{encoded}", s.serveVODSegment)
	r.Post("/vod/{provider}/extract/{id}", s.serveVODExtract)
	r.Get("/vod/{provider}/catalog", s.serveVODCatalog)

	r.Get("/tve/directv/epg.xml", s.serveTVEEpg)
	r.Get("/tve/directv/playlist.m3u", s.serveTVEPlaylist)
	r.Post("/tve/directv/epg/refresh", s.serveTVERefresh)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", s.serveHealth)

	addr := s.Addr
	if addr == "" {
		addr = ":5004"
	}
	srv := &http.Server{Addr: addr, Handler: logRequests(r)}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("gateway listening on %s (BaseURL %s)", addr, s.BaseURL)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("gateway: shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("gateway: shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// serveHealth follows the teacher's two-state contract in
// internal/tuner/server.go: 503 "loading" before the catalog has any
// channels, 200 "ok" with a channel count once it does.
func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	count := 0
	if s.Catalog != nil {
		count = len(s.Catalog.Snapshot())
	}
	w.Header().Set("Content-Type", "application/json")
	if count == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"loading"}`))
		return
	}
	body, _ := json.Marshal(map[string]any{
		"status":   "ok",
		"channels": count,
	})
	_, _ = w.Write(body)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// logRequests is the teacher's structured-access-log middleware, adapted
// unchanged from internal/tuner/server.go.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s ua=%q remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.UserAgent(), r.RemoteAddr,
		)
	})
}
