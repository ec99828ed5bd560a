package tunerpool

import (
	"bytes"
	"testing"
	"time"

	"github.com/snapetech/iptvgw/internal/tuner"
)

func TestPool_StatusReflectsTunerState(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 2, time.Now())
	p := newTestPool(t0)

	status := p.Status()
	if len(status) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(status))
	}
	if status[0].CurrentChannel != "espn" || status[0].ClientCount != 2 {
		t.Fatalf("unexpected status entry: %+v", status[0])
	}
}

func TestPool_ReleaseClientDecrementsCount(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 0, time.Now())
	var buf bytes.Buffer
	t0.AddClient(&buf)
	p := newTestPool(t0)

	if err := p.ReleaseClient(0, &buf); err != nil {
		t.Fatalf("ReleaseClient: %v", err)
	}
	if t0.ClientCount() != 0 {
		t.Fatalf("expected clientCount=0, got %d", t0.ClientCount())
	}
}

func TestPool_ReleaseClientUnknownTunerErrors(t *testing.T) {
	p := newTestPool()
	var buf bytes.Buffer
	if err := p.ReleaseClient(99, &buf); err == nil {
		t.Fatal("expected error releasing an unknown tuner id")
	}
}

func TestPool_ForceReleaseResetsTuner(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 3, time.Now())
	p := newTestPool(t0)

	if err := p.ForceRelease(0); err != nil {
		t.Fatalf("ForceRelease: %v", err)
	}
	if t0.State() != tuner.StateFree {
		t.Fatalf("expected free state, got %s", t0.State())
	}
	if t0.CurrentChannel() != "" {
		t.Fatalf("expected currentChannel cleared, got %q", t0.CurrentChannel())
	}
}
