// Package provider implements the VOD Provider Core: a pluggable family of
// upstream site adapters, the per-content StreamEntry refresh lifecycle, and
// a registry binding provider ids to implementations.
package provider

import "context"

// CatalogOptions are provider-specific catalog fetch parameters (e.g. expand,
// category filter). Providers interpret keys themselves.
type CatalogOptions map[string]string

// CatalogItem is one entry in a provider's on-demand catalog.
type CatalogItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"` // "movie" | "series" | "episode"
	Poster      string `json:"poster,omitempty"`
	Year        string `json:"year,omitempty"`
}

// Catalog is the result of a provider catalog fetch.
type Catalog struct {
	Movies []CatalogItem `json:"movies"`
	Series []CatalogItem `json:"series"`
}

// ExtractHints are caller-supplied hints to extraction (e.g. a season/episode
// pair, a preferred quality). Providers may ignore hints they don't use.
type ExtractHints map[string]string

// ExtractResult is the outcome of a successful stream URL extraction.
type ExtractResult struct {
	URL         string
	Headers     map[string]string
	Quality     string
	Alternates  []string
	Subtitles   []string
	ContentType string // response content-type observed at extraction, e.g. application/vnd.apple.mpegurl
}

// Provider is one upstream VOD site adapter.
type Provider interface {
	ID() string

	// FetchCatalog lists available content.
	FetchCatalog(ctx context.Context, opts CatalogOptions) (Catalog, error)

	// ExtractStreamUrl resolves a playable upstream URL for contentId. Must be
	// safe to call concurrently for the same id; idempotent at the semantic
	// level (latest successful write wins).
	ExtractStreamUrl(ctx context.Context, contentID, contentType string, hints ExtractHints) (ExtractResult, error)

	// GetProxyHeaders returns headers the proxy should send upstream when no
	// per-entry headers were captured at extraction time.
	GetProxyHeaders() map[string]string

	// GetM3U8Patterns / GetExcludePatterns drive browser-based interception:
	// a candidate URL is accepted only if it matches an M3U8 pattern and does
	// not match an exclude pattern.
	GetM3U8Patterns() []string
	GetExcludePatterns() []string

	// RewritePlaylistUrls lets a provider override the generic rewrite with a
	// CDN-naming-aware regex rewrite. Implementations that don't need an
	// override should return playlist unchanged and let the generic
	// internal/playlist.Rewrite handle it.
	RewritePlaylistUrls(playlist []byte, proxyBase, contentID, baseURL string) []byte

	// GetContentUrl returns the provider's canonical page URL for id/type,
	// used as the extraction entry point.
	GetContentUrl(id, contentType string) string
}
