package epg

import (
	"strings"
	"testing"
	"time"
)

func TestWriteXMLTV_ChannelIDAndDisplayNames(t *testing.T) {
	g := Guide{
		Channels: []Channel{
			{ID: "c1", Name: "ESPN", Number: "206", CallSign: "ESPNHD", Logo: "http://x/logo.png"},
		},
		Schedules: map[string][]Program{},
	}
	var b strings.Builder
	WriteXMLTV(&b, g, time.Now(), 24*time.Hour)
	out := b.String()

	if !strings.Contains(out, `<channel id="dtv-206">`) {
		t.Errorf("expected channel id dtv-206, got:\n%s", out)
	}
	for _, want := range []string{"<display-name>ESPN</display-name>", "<display-name>206</display-name>", "<display-name>ESPNHD</display-name>", `<icon src="http://x/logo.png"/>`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output", want)
		}
	}
}

func TestWriteXMLTV_FiltersProgrammesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := Guide{
		Channels: []Channel{{ID: "c1", Number: "1"}},
		Schedules: map[string][]Program{
			"c1": {
				{Title: "In window", StartTime: now.Add(1 * time.Hour).Format(time.RFC3339), EndTime: now.Add(2 * time.Hour).Format(time.RFC3339)},
				{Title: "Out of window", StartTime: now.Add(48 * time.Hour).Format(time.RFC3339), EndTime: now.Add(49 * time.Hour).Format(time.RFC3339)},
			},
		},
	}
	var b strings.Builder
	WriteXMLTV(&b, g, now, 24*time.Hour)
	out := b.String()

	if !strings.Contains(out, "In window") {
		t.Error("expected in-window programme to be emitted")
	}
	if strings.Contains(out, "Out of window") {
		t.Error("expected out-of-window programme to be excluded")
	}
}

func TestWriteXMLTV_EpisodeNumAndDateAndRating(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := Guide{
		Channels: []Channel{{ID: "c1", Number: "1"}},
		Schedules: map[string][]Program{
			"c1": {{
				Title: "Show", StartTime: now.Add(time.Hour).Format(time.RFC3339), EndTime: now.Add(2 * time.Hour).Format(time.RFC3339),
				SeasonNumber: 2, EpisodeNumber: 5, OriginalAirDate: "2020-03-15", Rating: "TV-14",
			}},
		},
	}
	var b strings.Builder
	WriteXMLTV(&b, g, now, 24*time.Hour)
	out := b.String()

	if !strings.Contains(out, `<episode-num system="xmltv_ns">1.4.0</episode-num>`) {
		t.Errorf("expected episode-num 1.4.0, got:\n%s", out)
	}
	if !strings.Contains(out, "<date>20200315</date>") {
		t.Errorf("expected date 20200315, got:\n%s", out)
	}
	if !strings.Contains(out, `<rating system="VCHIP">`) || !strings.Contains(out, "<value>TV-14</value>") {
		t.Errorf("expected VCHIP rating, got:\n%s", out)
	}
}

func TestXMLEscape(t *testing.T) {
	in := `Tom & Jerry's "Big" <Adventure>`
	want := `Tom &amp; Jerry&apos;s &quot;Big&quot; &lt;Adventure&gt;`
	if got := xmlEscape(in); got != want {
		t.Errorf("xmlEscape(%q) = %q, want %q", in, got, want)
	}
}

func TestWriteXMLTV_TimesAreUTCFormatted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	est := time.FixedZone("EST", -5*3600)
	g := Guide{
		Channels: []Channel{{ID: "c1", Number: "1"}},
		Schedules: map[string][]Program{
			"c1": {{Title: "X", StartTime: now.Add(time.Hour).In(est).Format(time.RFC3339), EndTime: now.Add(2 * time.Hour).In(est).Format(time.RFC3339)}},
		},
	}
	var b strings.Builder
	WriteXMLTV(&b, g, now, 24*time.Hour)
	out := b.String()
	if !strings.Contains(out, `start="20260101010000 +0000"`) {
		t.Errorf("expected UTC-normalized start time, got:\n%s", out)
	}
}
