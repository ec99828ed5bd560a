package playlist

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestResolveURL(t *testing.T) {
	base := "https://cdn.example.com/streams/abc/index.m3u8"
	cases := []struct {
		name, line, want string
	}{
		{"absolute passthrough", "https://other.example.com/seg1.ts", "https://other.example.com/seg1.ts"},
		{"scheme-relative", "//cdn2.example.com/seg1.ts", "https:" + "//cdn2.example.com/seg1.ts"},
		{"path-relative", "/streams/abc/seg1.ts", "https://cdn.example.com/streams/abc/seg1.ts"},
		{"bare", "seg1.ts", "https://cdn.example.com/streams/abc/seg1.ts"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ResolveURL(base, c.line)
			if got != c.want {
				t.Errorf("ResolveURL(%q, %q) = %q, want %q", base, c.line, got, c.want)
			}
		})
	}
}

func TestRewrite_EncodesSegmentLinesAndStripsEndlist(t *testing.T) {
	base := "https://cdn.example.com/streams/abc/index.m3u8"
	input := "#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg1.ts\nseg2.ts\n#EXT-X-ENDLIST\n"

	out := string(Rewrite(nil, []byte(input), "https://gw.local", "content-1", base))

	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Error("expected #EXT-X-ENDLIST to be stripped")
	}
	if !strings.Contains(out, "#EXTM3U") || !strings.Contains(out, "#EXT-X-TARGETDURATION:6") {
		t.Error("expected comment/tag lines to pass through unchanged")
	}

	wantSeg1 := base64.RawURLEncoding.EncodeToString([]byte("https://cdn.example.com/streams/abc/seg1.ts"))
	if !strings.Contains(out, "https://gw.local/segment/"+wantSeg1+"?cid=content-1") {
		t.Errorf("expected rewritten seg1 line, got:\n%s", out)
	}
}

func TestRewrite_EmptyLinesPassThrough(t *testing.T) {
	input := "#EXTM3U\n\nseg1.ts\n"
	out := string(Rewrite(nil, []byte(input), "https://gw.local", "c1", "https://cdn.example.com/a/b.m3u8"))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (comment, blank, rewritten segment), got %d: %q", len(lines), out)
	}
	if lines[1] != "" {
		t.Errorf("expected blank line preserved, got %q", lines[1])
	}
}

type stubProvider struct {
	called bool
	ret    []byte
}

func (s *stubProvider) RewritePlaylistUrls(playlist []byte, proxyBase, contentId, baseURL string) []byte {
	s.called = true
	return s.ret
}

func TestRewrite_UsesProviderOverrideFirst(t *testing.T) {
	p := &stubProvider{ret: []byte("seg-only.ts\n")}
	out := string(Rewrite(p, []byte("original\n"), "https://gw.local", "c1", "https://cdn.example.com/a/b.m3u8"))
	if !p.called {
		t.Fatal("expected provider override to be invoked")
	}
	if !strings.Contains(out, "https://gw.local/segment/") {
		t.Errorf("expected the provider's output to still pass through the generic rewrite, got %q", out)
	}
}
