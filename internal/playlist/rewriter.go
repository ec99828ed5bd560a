// Package playlist rewrites upstream HLS playlists so every segment line
// routes back through the gateway's own segment proxy instead of the
// upstream CDN directly.
package playlist

import (
	"bufio"
	"encoding/base64"
	"net/url"
	"strings"
)

// Provider is the subset of internal/provider.Provider the rewriter needs:
// an optional provider-specific override that only touches CDN-shaped
// segment lines, skipping the generic rewrite for everything else.
type Provider interface {
	RewritePlaylistUrls(playlist []byte, proxyBase, contentId, baseURL string) []byte
}

// Rewrite rewrites every non-comment, non-empty line of playlist into
// "{proxyBase}/segment/{encoded}?cid={contentId}", resolving each line to
// an absolute URL against baseStreamURL first, and strips #EXT-X-ENDLIST so
// the playlist always presents as live. If p is non-nil its
// RewritePlaylistUrls is tried first; a provider may apply its own
// CDN-specific regex and leave non-matching lines untouched, in which case
// the remainder still passes through the generic rewrite below (lines that
// already point at "{proxyBase}/segment/" are kept as they are).
func Rewrite(p Provider, playlist []byte, proxyBase, contentId, baseStreamURL string) []byte {
	if p != nil {
		playlist = p.RewritePlaylistUrls(playlist, proxyBase, contentId, baseStreamURL)
	}

	var out strings.Builder
	sc := bufio.NewScanner(strings.NewReader(string(playlist)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "#EXT-X-ENDLIST" {
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, proxyBase+"/segment/") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}

		abs := ResolveURL(baseStreamURL, trimmed)
		encoded := base64.RawURLEncoding.EncodeToString([]byte(abs))
		out.WriteString(proxyBase)
		out.WriteString("/segment/")
		out.WriteString(encoded)
		out.WriteString("?cid=")
		out.WriteString(url.QueryEscape(contentId))
		out.WriteByte('\n')
	}
	return []byte(out.String())
}

// ResolveURL resolves a playlist line against base per spec §4.4 rule 1:
// scheme-relative ("//host/path") borrows base's scheme; path-relative
// ("/path") resolves against base's host; bare ("segment123.ts") resolves
// against the directory of base (everything up to and including the last
// "/"). Already-absolute lines pass through unchanged.
func ResolveURL(base, line string) string {
	if strings.Contains(line, "://") {
		return line
	}
	if strings.HasPrefix(line, "//") {
		if u, err := url.Parse(base); err == nil {
			return u.Scheme + ":" + line
		}
		return "https:" + line
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return line
	}
	if strings.HasPrefix(line, "/") {
		resolved := *baseURL
		resolved.Path = line
		resolved.RawQuery = ""
		resolved.Fragment = ""
		return resolved.String()
	}
	ref, err := url.Parse(line)
	if err != nil {
		return line
	}
	return baseURL.ResolveReference(ref).String()
}
