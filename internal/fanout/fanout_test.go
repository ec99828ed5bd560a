package fanout

import (
	"bytes"
	"errors"
	"testing"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("boom") }

func TestFanout_BroadcastsToAllAttached(t *testing.T) {
	f := New()
	var a, b bytes.Buffer
	f.Add(&a)
	f.Add(&b)

	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if a.String() != "hello" || b.String() != "hello" {
		t.Errorf("a=%q b=%q", a.String(), b.String())
	}
}

func TestFanout_LateAttachNeverSeesPriorBytes(t *testing.T) {
	f := New()
	var early bytes.Buffer
	f.Add(&early)
	f.Write([]byte("before"))

	var late bytes.Buffer
	f.Add(&late)
	f.Write([]byte("after"))

	if late.String() != "after" {
		t.Errorf("late writer should only see post-attach bytes, got %q", late.String())
	}
	if early.String() != "beforeafter" {
		t.Errorf("early writer should see everything, got %q", early.String())
	}
}

func TestFanout_DropsFailingWriter(t *testing.T) {
	f := New()
	fw := failingWriter{}
	var ok bytes.Buffer
	f.Add(fw)
	f.Add(&ok)

	f.Write([]byte("x"))
	if f.Count() != 1 {
		t.Fatalf("expected failing writer to be dropped, count=%d", f.Count())
	}

	f.Write([]byte("y"))
	if ok.String() != "xy" {
		t.Errorf("surviving writer should keep receiving bytes, got %q", ok.String())
	}
}

type closableWriter struct {
	bytes.Buffer
	closed bool
}

func (c *closableWriter) Close() error {
	c.closed = true
	return nil
}

func TestFanout_CloseAllDetachesAndCloses(t *testing.T) {
	f := New()
	cw := &closableWriter{}
	f.Add(cw)
	f.CloseAll()
	if !cw.closed {
		t.Error("expected writer to be closed")
	}
	if f.Count() != 0 {
		t.Errorf("expected 0 writers after CloseAll, got %d", f.Count())
	}
}

func TestFanout_RemoveIsIdempotent(t *testing.T) {
	f := New()
	var buf bytes.Buffer
	f.Add(&buf)
	f.Remove(&buf)
	f.Remove(&buf) // must not panic
	if f.Count() != 0 {
		t.Errorf("expected 0 writers, got %d", f.Count())
	}
}
