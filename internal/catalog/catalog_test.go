package catalog

import (
	"path/filepath"
	"testing"
)

func sampleChannels() []Channel {
	return []Channel{
		{ID: "espn", Name: "ESPN", Number: "2", Category: "sports"},
		{ID: "cnn", Name: "CNN", Number: "5", Category: "news", SearchTerms: []string{"CNN HD"}},
	}
}

func TestCatalog_ReplaceAndSnapshot(t *testing.T) {
	c := New()
	c.Replace(sampleChannels())

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(snap))
	}

	snap[0].Name = "mutated"
	if ch, _ := c.ByID("espn"); ch.Name != "ESPN" {
		t.Error("Snapshot should not let caller mutate internal state")
	}
}

func TestCatalog_ByIDAndByNumber(t *testing.T) {
	c := New()
	c.Replace(sampleChannels())

	if _, ok := c.ByID("missing"); ok {
		t.Error("expected missing id to be absent")
	}
	ch, ok := c.ByNumber("5")
	if !ok || ch.ID != "cnn" {
		t.Errorf("ByNumber(5) = %+v, %v", ch, ok)
	}
}

func TestCatalog_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.json")

	c := New()
	c.Replace(sampleChannels())
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2 := New()
	if err := c2.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c2.Snapshot()) != 2 {
		t.Errorf("expected 2 channels after load, got %d", len(c2.Snapshot()))
	}
}

func TestCatalog_LoadMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	c := New()
	if err := c.Load(filepath.Join(dir, "nope.json")); err != nil {
		t.Errorf("Load of missing file should not error: %v", err)
	}
	if len(c.Snapshot()) != 0 {
		t.Error("expected empty catalog")
	}
}
