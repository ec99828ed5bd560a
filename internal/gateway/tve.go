package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snapetech/iptvgw/internal/epg"
)

// serveTVEEpg emits the captured guide as XMLTV, windowed to ?hours=N
// (default from Server.EPGWindow, itself defaulting to 24h inside
// epg.WriteXMLTV).
func (s *Server) serveTVEEpg(w http.ResponseWriter, r *http.Request) {
	window := s.EPGWindow
	if hoursParam := r.URL.Query().Get("hours"); hoursParam != "" {
		if hours, err := strconv.Atoi(hoursParam); err == nil && hours > 0 {
			window = time.Duration(hours) * time.Hour
		}
	}

	var b strings.Builder
	epg.WriteXMLTV(&b, s.EPG.Guide(), time.Now().UTC(), window)

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(b.String()))
}

// serveTVEPlaylist emits an M3U whose url-tvg header points at
// /tve/directv/epg.xml and whose tvg-id values match that document's
// <channel id> values (epgChannelID), per §6. A guide channel only gets an
// entry if its Number matches a tuneable catalog channel, since the stream
// URL must route through this gateway's own /stream/{id}.
func (s *Server) serveTVEPlaylist(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(s.baseURL(r), "/")
	guideURL := base + "/tve/directv/epg.xml"

	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, "#EXTM3U url-tvg=%q\n", guideURL)

	for _, ch := range s.EPG.Guide().Channels {
		catCh, ok := s.Catalog.ByNumber(ch.Number)
		if !ok {
			continue
		}
		tvgID := epgChannelID(ch)
		name := ch.Name
		if name == "" {
			name = catCh.Name
		}
		fmt.Fprintf(w, "#EXTINF:-1 tvg-id=%q tvg-name=%q,%s\n", tvgID, escapeM3UAttr(name), name)
		fmt.Fprintf(w, "%s/stream/%s\n", base, catCh.ID)
	}
}

// epgChannelID mirrors internal/epg's own "dtv-{number}" channel id key so
// this playlist's tvg-id always matches the XMLTV document's <channel id>.
func epgChannelID(ch epg.Channel) string {
	return "dtv-" + ch.Number
}

func (s *Server) serveTVERefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.EPG.Refresh(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
