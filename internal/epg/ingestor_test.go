package epg

import (
	"testing"
	"time"
)

func TestDecodeAllChannels_FiltersNonLiveStreaming(t *testing.T) {
	body := []byte(`{"channels":[
		{"id":"1","name":"ESPN","number":"206","liveStreamEnabled":true},
		{"id":"2","name":"Local","number":"5","liveStreamEnabled":false}
	]}`)
	got, err := decodeAllChannels(body)
	if err != nil {
		t.Fatalf("decodeAllChannels: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("expected only the live-stream-enabled channel, got %+v", got)
	}
}

func TestDecodeSchedule_MapsChannelIDAndPrograms(t *testing.T) {
	body := []byte(`{"channelId":"1","programs":[{"title":"Game","startTime":"2026-01-01T01:00:00Z","endTime":"2026-01-01T03:00:00Z"}]}`)
	chanID, progs, err := decodeSchedule(body)
	if err != nil {
		t.Fatalf("decodeSchedule: %v", err)
	}
	if chanID != "1" {
		t.Fatalf("expected channelId '1', got %q", chanID)
	}
	if len(progs) != 1 || progs[0].Title != "Game" {
		t.Fatalf("unexpected programs: %+v", progs)
	}
}

func TestEverySchedule_ReadsIntervalFreshEachCall(t *testing.T) {
	interval := 1 * time.Hour
	s := everySchedule{interval: func() time.Duration { return interval }}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := s.Next(base)
	if !first.Equal(base.Add(1 * time.Hour)) {
		t.Fatalf("expected +1h, got %v", first)
	}

	interval = 2 * time.Hour
	second := s.Next(base)
	if !second.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected interval change to be picked up on next call, got %v", second)
	}
}

func TestIngestor_CacheAgeIsLargeWhenNeverPopulated(t *testing.T) {
	ig := New(Config{CacheDir: t.TempDir()}, nil)
	if ig.CacheAge() < 24*time.Hour {
		t.Fatalf("expected a large cache age for an empty guide, got %v", ig.CacheAge())
	}
}

func TestIngestor_RefreshRejectsReentrant(t *testing.T) {
	ig := New(Config{CacheDir: t.TempDir()}, nil)
	ig.refreshing = 1
	if err := ig.Refresh(nil); err == nil {
		t.Fatal("expected reentrant Refresh to be rejected")
	}
}
