package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/iptvgw/internal/tunerpool"
)

// servePlaylistM3U emits the live channel playlist per §6's wire format:
// one EXTINF line with tvg-id/tvg-name/tvg-chno/group-title, then the
// gateway's own /stream/{id} URL.
func (s *Server) servePlaylistM3U(w http.ResponseWriter, r *http.Request) {
	channels := s.Catalog.Snapshot()
	base := strings.TrimSuffix(s.baseURL(r), "/")

	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte("#EXTM3U\n"))
	for _, ch := range channels {
		fmt.Fprintf(w, "#EXTINF:-1 tvg-id=%q tvg-name=%q tvg-chno=%q group-title=%q,%s\n",
			ch.ID, escapeM3UAttr(ch.Name), ch.Number, escapeM3UAttr(ch.Category), ch.Name)
		fmt.Fprintf(w, "%s/stream/%s\n", base, ch.ID)
	}
}

func escapeM3UAttr(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", " ")
}

// flushWriter adapts an http.ResponseWriter into a fanout client that
// flushes after every write, so chunked bytes reach the player as soon as
// the encoder produces them rather than waiting on Go's default buffering.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, nil
}

// serveStream allocates a tuner for channelId and streams its fan-out to
// the client until disconnect, per §6's status-code contract: 404 on an
// unknown channel, 503 on pool exhaustion, 503 "channel switched, please
// retry" when this request's own allocation attempt was superseded or
// displaced mid-flight by another allocator before any bytes were sent.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	channelId := chi.URLParam(r, "channelId")
	if _, ok := s.Catalog.ByID(channelId); !ok {
		http.NotFound(w, r)
		return
	}

	flusher, _ := w.(http.Flusher)
	client := &flushWriter{w: w, f: flusher}

	t, outcome, err := s.Pool.Allocate(r.Context(), channelId, s.Catalog, client)
	if outcome == tunerpool.Superseded || (outcome == tunerpool.Exhausted && err != nil) {
		http.Error(w, "channel switched, please retry", http.StatusServiceUnavailable)
		return
	}
	if outcome != tunerpool.Allocated {
		http.Error(w, "tuner pool exhausted", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	<-r.Context().Done()
	_ = s.Pool.ReleaseClient(t.ID(), client)
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	entries := s.Pool.Status()
	type statusEntry struct {
		ID             int    `json:"id"`
		State          string `json:"state"`
		CurrentChannel string `json:"currentChannel,omitempty"`
		ClientCount    int    `json:"clientCount"`
		LastActivity   string `json:"lastActivity"`
	}
	out := make([]statusEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusEntry{
			ID:             e.ID,
			State:          string(e.State),
			CurrentChannel: e.CurrentChannel,
			ClientCount:    e.ClientCount,
			LastActivity:   e.LastActivity.UTC().Format(time.RFC3339),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) serveRelease(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid tuner id", http.StatusBadRequest)
		return
	}
	if err := s.Pool.ReleaseOne(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveForceRelease(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid tuner id", http.StatusBadRequest)
		return
	}
	if err := s.Pool.ForceRelease(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
