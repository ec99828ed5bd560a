package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/iptvgw/internal/cache"
	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/epg"
	"github.com/snapetech/iptvgw/internal/tunerpool"
)

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Replace([]catalog.Channel{
		{ID: "espn", Name: "ESPN", Number: "206", Category: "Sports"},
		{ID: "cnn", Name: "CNN", Number: "202", Category: "News"},
	})
	return c
}

func TestServeHealth_LoadingThenOK(t *testing.T) {
	s := &Server{Catalog: catalog.New()}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.serveHealth(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty catalog: status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"loading"`) {
		t.Fatalf("empty catalog: body = %q", rec.Body.String())
	}

	s.Catalog = testCatalog()
	rec = httptest.NewRecorder()
	s.serveHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("populated catalog: status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"channels":2`) {
		t.Fatalf("populated catalog: body = %q", rec.Body.String())
	}
}

func TestServePlaylistM3U(t *testing.T) {
	s := &Server{Catalog: testCatalog(), BaseURL: "http://gw.test:5004"}

	req := httptest.NewRequest(http.MethodGet, "/playlist.m3u", nil)
	rec := httptest.NewRecorder()
	s.servePlaylistM3U(rec, req)

	body := rec.Body.String()
	if !strings.HasPrefix(body, "#EXTM3U\n") {
		t.Fatalf("missing #EXTM3U header: %q", body)
	}
	if !strings.Contains(body, `tvg-id="espn"`) {
		t.Fatalf("missing espn entry: %q", body)
	}
	if !strings.Contains(body, "http://gw.test:5004/stream/espn") {
		t.Fatalf("missing stream URL: %q", body)
	}
}

func TestServeStream_UnknownChannelIs404(t *testing.T) {
	s := &Server{Catalog: testCatalog()}

	r := chi.NewRouter()
	r.Get("/stream/{channelId}", s.serveStream)

	req := httptest.NewRequest(http.MethodGet, "/stream/doesnotexist", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestServeStream_ExhaustedPoolIs503(t *testing.T) {
	s := &Server{Catalog: testCatalog(), Pool: tunerpool.New(tunerpool.Config{}, nil)}

	r := chi.NewRouter()
	r.Get("/stream/{channelId}", s.serveStream)

	req := httptest.NewRequest(http.MethodGet, "/stream/espn", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestServeTVEPlaylist_SkipsChannelsWithoutCatalogMatch(t *testing.T) {
	guide := epg.Guide{Channels: []epg.Channel{
		{Name: "ESPN HD", Number: "206"},
		{Name: "Unmapped", Number: "999"},
	}}
	cacheDir := t.TempDir()
	if err := cache.SaveJSON(cache.JSONPath(cacheDir, "epg"), guide); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	ig := epg.New(epg.Config{CacheDir: cacheDir}, nil)
	if err := ig.LoadCache(); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}

	s := &Server{
		Catalog: testCatalog(),
		BaseURL: "http://gw.test:5004",
		EPG:     ig,
	}

	req := httptest.NewRequest(http.MethodGet, "/tve/directv/playlist.m3u", nil)
	rec := httptest.NewRecorder()
	s.serveTVEPlaylist(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `tvg-id="dtv-206"`) {
		t.Fatalf("missing matched channel entry: %q", body)
	}
	if strings.Contains(body, "dtv-999") {
		t.Fatalf("unmapped channel should have been skipped: %q", body)
	}
	if !strings.Contains(body, "/stream/espn") {
		t.Fatalf("missing stream URL for matched channel: %q", body)
	}
}

func TestEscapeM3UAttr(t *testing.T) {
	if got := escapeM3UAttr("News & Weather"); strings.Contains(got, "&") {
		t.Fatalf("expected ampersand to be escaped, got %q", got)
	}
}
