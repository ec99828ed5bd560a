package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

// brotliTransport wraps a RoundTripper and transparently decodes
// Content-Encoding: br responses, the same way net/http transparently
// handles gzip. Some VOD and EPG upstreams behind Cloudflare prefer brotli
// and ignore a plain "gzip" Accept-Encoding, so this is always installed.
type brotliTransport struct {
	base http.RoundTripper
}

// wrapBrotli installs brotli auto-decoding on top of base. When the caller
// has not set Accept-Encoding, it requests "gzip, br" itself; because an
// explicit header turns off net/http's built-in gzip decoding, RoundTrip
// decodes gzip responses as well as brotli ones.
func wrapBrotli(base http.RoundTripper) http.RoundTripper {
	return &brotliTransport{base: base}
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	hadAcceptEncoding := reqClone.Header.Get("Accept-Encoding") != ""
	if !hadAcceptEncoding {
		reqClone.Header.Set("Accept-Encoding", "gzip, br")
	}

	resp, err := t.base.RoundTrip(reqClone)
	if err != nil {
		return nil, err
	}

	if !hadAcceptEncoding && resp.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		resp.Body = &brotliReadCloser{r: zr, underlying: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}
	if !hadAcceptEncoding && resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &brotliReadCloser{r: brotli.NewReader(resp.Body), underlying: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}
	return resp, nil
}

type brotliReadCloser struct {
	r          io.Reader
	underlying io.ReadCloser
}

func (b *brotliReadCloser) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *brotliReadCloser) Close() error                { return b.underlying.Close() }
