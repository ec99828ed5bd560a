package epg

import (
	"fmt"
	"strings"
	"time"
)

// xmltvTimeFormat is XMLTV's documented wire format for start/stop/date
// attributes: "YYYYMMDDHHMMSS +0000" (always UTC here, per spec §4.5).
const xmltvTimeFormat = "20060102150405 -0700"

// WriteXMLTV renders g as an XMLTV document, including only programmes that
// start within window of now and haven't already ended (default 24h per
// spec §4.5). Channel id key is "dtv-{number}"; each channel emits multiple
// <display-name> entries (name, number, call sign) and an <icon> if a logo
// is present.
func WriteXMLTV(w *strings.Builder, g Guide, now time.Time, window time.Duration) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := now.Add(window)

	w.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	w.WriteString(`<tv source-info-name="iptvgw">` + "\n")

	for _, ch := range g.Channels {
		id := channelID(ch)
		w.WriteString(fmt.Sprintf("  <channel id=%q>\n", xmlEscape(id)))
		if ch.Name != "" {
			fmt.Fprintf(w, "    <display-name>%s</display-name>\n", xmlEscape(ch.Name))
		}
		if ch.Number != "" {
			fmt.Fprintf(w, "    <display-name>%s</display-name>\n", xmlEscape(ch.Number))
		}
		if ch.CallSign != "" {
			fmt.Fprintf(w, "    <display-name>%s</display-name>\n", xmlEscape(ch.CallSign))
		}
		if ch.Logo != "" {
			fmt.Fprintf(w, "    <icon src=%q/>\n", xmlEscape(ch.Logo))
		}
		w.WriteString("  </channel>\n")
	}

	for _, ch := range g.Channels {
		id := channelID(ch)
		for _, p := range g.Schedules[ch.ID] {
			start, err := time.Parse(time.RFC3339, p.StartTime)
			if err != nil {
				continue
			}
			if start.After(cutoff) {
				continue
			}
			end, err := time.Parse(time.RFC3339, p.EndTime)
			if err != nil {
				continue
			}
			if end.Before(now) {
				continue
			}
			writeProgramme(w, id, p, start.UTC(), end.UTC())
		}
	}

	w.WriteString("</tv>\n")
}

func writeProgramme(w *strings.Builder, channelID string, p Program, start, end time.Time) {
	fmt.Fprintf(w, "  <programme start=%q stop=%q channel=%q>\n",
		start.Format(xmltvTimeFormat), end.Format(xmltvTimeFormat), xmlEscape(channelID))

	fmt.Fprintf(w, "    <title>%s</title>\n", xmlEscape(p.Title))
	if p.Subtitle != "" {
		fmt.Fprintf(w, "    <sub-title>%s</sub-title>\n", xmlEscape(p.Subtitle))
	}
	if p.Description != "" {
		fmt.Fprintf(w, "    <desc>%s</desc>\n", xmlEscape(p.Description))
	}
	for _, cat := range p.Categories {
		fmt.Fprintf(w, "    <category>%s</category>\n", xmlEscape(cat))
	}
	for _, g := range p.Genres {
		fmt.Fprintf(w, "    <category>%s</category>\n", xmlEscape(g))
	}
	if p.SeasonNumber > 0 && p.EpisodeNumber > 0 {
		fmt.Fprintf(w, "    <episode-num system=\"xmltv_ns\">%d.%d.0</episode-num>\n",
			p.SeasonNumber-1, p.EpisodeNumber-1)
	}
	if p.OriginalAirDate != "" {
		if airDate, err := parseAnyDate(p.OriginalAirDate); err == nil {
			fmt.Fprintf(w, "    <date>%s</date>\n", airDate.Format("20060102"))
		}
	}
	if p.Rating != "" {
		fmt.Fprintf(w, "    <rating system=\"VCHIP\">\n      <value>%s</value>\n    </rating>\n", xmlEscape(p.Rating))
	}
	w.WriteString("  </programme>\n")
}

func parseAnyDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func channelID(ch Channel) string {
	return "dtv-" + ch.Number
}

// xmlEscape escapes the five XML-significant characters, per spec §4.5:
// "& < > \" '".
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
