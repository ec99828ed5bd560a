package gateway

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/iptvgw/internal/httpclient"
	"github.com/snapetech/iptvgw/internal/playlist"
	"github.com/snapetech/iptvgw/internal/provider"
	"github.com/snapetech/iptvgw/internal/safeurl"
	"github.com/snapetech/iptvgw/internal/segmentcache"
)

// catalogCache is the process-wide "read from cache unless refresh or
// never-fetched" policy of §6's /vod/{provider}/catalog, one entry per
// provider id. Plain in-memory cache: the provider's own FetchCatalog is
// the durable source, this just avoids hammering it on every page load.
type catalogCache struct {
	mu    sync.Mutex
	byID  map[string]provider.Catalog
	fetch map[string]time.Time
}

var vodCatalogs = catalogCache{byID: make(map[string]provider.Catalog), fetch: make(map[string]time.Time)}

func (c *catalogCache) get(id string) (provider.Catalog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat, ok := c.byID[id]
	return cat, ok
}

func (c *catalogCache) put(id string, cat provider.Catalog) {
	c.mu.Lock()
	c.byID[id] = cat
	c.fetch[id] = time.Now()
	c.mu.Unlock()
}

// serveVODStream resolves contentId's upstream playlist (cache-or-extract),
// rewrites it to route segments back through this gateway, strips
// #EXT-X-ENDLIST so the player always treats it as live, schedules a
// background segment prefetch, and starts the StreamEntry's refresh timer
// (started implicitly by EnsureStreamUrl on first extraction).
func (s *Server) serveVODStream(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	contentId := chi.URLParam(r, "id")
	contentType := r.URL.Query().Get("type")
	if contentType == "" {
		contentType = "movie"
	}

	p, mgr, err := s.Providers.Get(providerID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	hints := provider.ExtractHints{}
	for _, k := range []string{"season", "episode", "quality"} {
		if v := r.URL.Query().Get(k); v != "" {
			hints[k] = v
		}
	}

	streamURL, headers, err := mgr.EnsureStreamUrl(r.Context(), contentId, contentType, hints)
	if err != nil {
		http.Error(w, fmt.Sprintf("vod: resolve stream: %v", err), http.StatusServiceUnavailable)
		return
	}
	if !safeurl.IsHTTPOrHTTPS(streamURL) {
		http.Error(w, "vod: resolved URL has an unsupported scheme", http.StatusBadGateway)
		return
	}

	body, err := s.fetchPlaylist(r.Context(), streamURL, mergeHeaders(p.GetProxyHeaders(), headers))
	if err != nil {
		http.Error(w, fmt.Sprintf("vod: fetch playlist: %v", err), http.StatusBadGateway)
		return
	}

	proxyBase := fmt.Sprintf("%s/vod/%s", strings.TrimSuffix(s.baseURL(r), "/"), providerID)
	rewritten := playlist.Rewrite(p, body, proxyBase, contentId, streamURL)

	if s.Prefetch != nil {
		refs := buildSegmentRefs(body, streamURL, headers)
		s.Prefetch.Start(context.Background(), contentId, refs)
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(rewritten)
}

// buildSegmentRefs resolves every non-comment playlist line against
// baseStreamURL, matching the rewrite's own resolution (internal/playlist.
// ResolveURL), so the prefetcher walks the same absolute URLs the segment
// handler will later be asked to serve.
func buildSegmentRefs(original []byte, baseStreamURL string, headers map[string]string) []segmentcache.SegmentRef {
	var refs []segmentcache.SegmentRef
	sc := bufio.NewScanner(strings.NewReader(string(original)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		abs := playlist.ResolveURL(baseStreamURL, line)
		key := base64.RawURLEncoding.EncodeToString([]byte(abs))
		refs = append(refs, segmentcache.SegmentRef{Key: key, URL: abs, Headers: headers})
	}
	return refs
}

// serveVODSegment serves one proxied segment: cache hit short-circuits
// straight to the bytes, a miss fetches-then-caches. An upstream 403/503 is
// treated as an expired StreamEntry URL: it triggers an urgent re-extraction
// and reports 410 so the player reloads the playlist per §7.
func (s *Server) serveVODSegment(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	encoded := chi.URLParam(r, "encoded")
	contentId := r.URL.Query().Get("cid")

	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, "vod: malformed segment reference", http.StatusBadRequest)
		return
	}
	upstreamURL := string(decoded)
	if !safeurl.IsHTTPOrHTTPS(upstreamURL) {
		http.Error(w, "vod: segment reference has an unsupported scheme", http.StatusBadRequest)
		return
	}

	p, mgr, err := s.Providers.Get(providerID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if contentId != "" {
		mgr.Touch(contentId)
	}

	if entry, ok := s.Segments.Get(encoded); ok {
		w.Header().Set("Content-Type", entry.ContentType)
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Header().Set("X-Cache", "HIT")
		w.Write(entry.Bytes)
		return
	}

	data, contentType, err := FetchSegment(r.Context(), s.Client, upstreamURL, p.GetProxyHeaders())
	if err == segmentcache.ErrUpstreamGone {
		if contentId != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
				defer cancel()
				_, _, _ = mgr.UrgentRefresh(ctx, contentId, "", provider.ExtractHints{})
			}()
		}
		http.Error(w, "vod: segment URL expired", http.StatusGone)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("vod: fetch segment: %v", err), http.StatusBadGateway)
		return
	}
	s.Segments.Put(encoded, segmentcache.Entry{Bytes: data, ContentType: contentType})
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("X-Cache", "MISS")
	w.Write(data)
}

// serveVODExtract performs a synchronous single-item extract (the same
// cache-or-extract path as serveVODStream, without the playlist fetch),
// returning the resolved URL as {"url": "..."}.
func (s *Server) serveVODExtract(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	contentId := chi.URLParam(r, "id")
	contentType := r.URL.Query().Get("type")
	if contentType == "" {
		contentType = "movie"
	}

	_, mgr, err := s.Providers.Get(providerID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	url, _, err := mgr.EnsureStreamUrl(r.Context(), contentId, contentType, provider.ExtractHints{})
	if err != nil {
		http.Error(w, fmt.Sprintf("vod: extract: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// serveVODCatalog reads the provider's catalog from cache unless refresh=true
// or the provider has never been fetched.
func (s *Server) serveVODCatalog(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	expand := r.URL.Query().Get("expand")
	refresh := r.URL.Query().Get("refresh") == "true"

	p, _, err := s.Providers.Get(providerID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if !refresh {
		if cat, ok := vodCatalogs.get(providerID); ok {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(cat)
			return
		}
	}

	cat, err := p.FetchCatalog(r.Context(), provider.CatalogOptions{"expand": expand})
	if err != nil {
		http.Error(w, fmt.Sprintf("vod: fetch catalog: %v", err), http.StatusBadGateway)
		return
	}
	vodCatalogs.put(providerID, cat)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cat)
}

func (s *Server) fetchPlaylist(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpclient.DoWithRetry(ctx, s.Client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FetchSegment fetches one segment's bytes and content-type from upstream.
// Exported so cmd/iptvgw can build the segmentcache.Fetcher passed to
// segmentcache.NewPrefetcher from the same client the gateway uses.
func FetchSegment(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, "", segmentcache.ErrUpstreamGone
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp2t"
	}
	return data, contentType, nil
}

func mergeHeaders(base, override map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
