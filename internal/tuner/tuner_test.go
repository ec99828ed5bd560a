package tuner

import (
	"bytes"
	"testing"
)

func newFreeTestTuner() *Tuner {
	tun := New(0, Config{DisplayNum: 90, Encoder: EncoderConfig{}}, nil)
	tun.state = StateFree
	return tun
}

func TestTuner_AddRemoveClientTracksCount(t *testing.T) {
	tun := newFreeTestTuner()
	var buf bytes.Buffer
	tun.AddClient(&buf)
	if tun.ClientCount() != 1 {
		t.Fatalf("expected clientCount=1, got %d", tun.ClientCount())
	}
	tun.RemoveClient(&buf)
	if tun.ClientCount() != 0 {
		t.Fatalf("expected clientCount=0, got %d", tun.ClientCount())
	}
}

func TestTuner_RemoveClientNeverGoesNegative(t *testing.T) {
	tun := newFreeTestTuner()
	var buf bytes.Buffer
	tun.RemoveClient(&buf)
	if tun.ClientCount() != 0 {
		t.Fatalf("expected clientCount=0, got %d", tun.ClientCount())
	}
}

func TestTuner_ReleaseOnlyFromStreaming(t *testing.T) {
	tun := newFreeTestTuner()
	tun.Release()
	if tun.State() != StateFree {
		t.Fatalf("Release from free should be a no-op, got %s", tun.State())
	}

	tun.state = StateStreaming
	tun.currentChannel = "abc"
	tun.Release()
	if tun.State() != StateFree {
		t.Fatalf("expected free after Release, got %s", tun.State())
	}
	if tun.CurrentChannel() != "" {
		t.Fatalf("expected currentChannel cleared, got %q", tun.CurrentChannel())
	}
}

func TestTuner_ForceReleaseClearsEverything(t *testing.T) {
	tun := newFreeTestTuner()
	tun.state = StateStreaming
	tun.currentChannel = "abc"
	var buf bytes.Buffer
	tun.AddClient(&buf)

	tun.ForceRelease()

	if tun.State() != StateFree {
		t.Fatalf("expected free after ForceRelease, got %s", tun.State())
	}
	if tun.CurrentChannel() != "" {
		t.Fatalf("expected currentChannel cleared, got %q", tun.CurrentChannel())
	}
	if tun.ClientCount() != 0 {
		t.Fatalf("expected clientCount=0, got %d", tun.ClientCount())
	}
}

func TestTuner_StartFromNonStoppedRejected(t *testing.T) {
	tun := newFreeTestTuner() // already free, not stopped
	if err := tun.Start(nil); err == nil {
		t.Fatal("expected error starting a tuner that is already free")
	}
}
