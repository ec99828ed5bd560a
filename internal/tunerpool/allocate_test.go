package tunerpool

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/tuner"
)

func testCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.Replace([]catalog.Channel{
		{ID: "espn", Name: "ESPN", Number: "1"},
		{ID: "cnn", Name: "CNN", Number: "2"},
		{ID: "fox-news", Name: "Fox News", Number: "3"},
	})
	return cat
}

func newTestPool(tuners ...*tuner.Tuner) *Pool {
	p := New(Config{}, nil)
	p.tuners = tuners
	return p
}

func TestAllocateOutcome_String(t *testing.T) {
	cases := map[AllocateOutcome]string{
		Allocated:  "allocated",
		Superseded: "superseded",
		Exhausted:  "exhausted",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("outcome %d: got %q want %q", outcome, got, want)
		}
	}
}

func TestPool_Allocate_ReuseStreamingIncrementsClientCount(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 1, time.Now())
	p := newTestPool(t0)

	var client bytes.Buffer
	got, outcome, err := p.Allocate(context.Background(), "espn", testCatalog(), &client)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if outcome != Allocated {
		t.Fatalf("expected Allocated, got %s", outcome)
	}
	if got != t0 {
		t.Fatalf("expected reuse of the streaming tuner")
	}
	if got.ClientCount() != 2 {
		t.Fatalf("expected clientCount=2 after reuse, got %d", got.ClientCount())
	}
}

func TestPool_Allocate_ExhaustedWhenNoTunersAvailable(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 1, time.Now())
	t1 := tuner.New(1, tuner.Config{}, nil)
	t1.PokeStateForPoolTests(tuner.StateStreaming, "cnn", 2, time.Now())
	p := newTestPool(t0, t1)

	var client bytes.Buffer
	got, outcome, err := p.Allocate(context.Background(), "fox-news", testCatalog(), &client)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if outcome != Exhausted {
		t.Fatalf("expected Exhausted, got %s", outcome)
	}
	if got != nil {
		t.Fatalf("expected nil tuner on exhaustion")
	}
}

func TestPool_Allocate_UnknownChannelIsAnError(t *testing.T) {
	p := newTestPool()
	var client bytes.Buffer
	_, outcome, err := p.Allocate(context.Background(), "no-such-channel", testCatalog(), &client)
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
	if outcome != Exhausted {
		t.Fatalf("expected Exhausted outcome alongside the error, got %s", outcome)
	}
}

func TestFindIdlestStreaming_PicksSmallestLastActivity(t *testing.T) {
	older := time.Now().Add(-1 * time.Hour)
	newer := time.Now()

	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 0, newer)
	t1 := tuner.New(1, tuner.Config{}, nil)
	t1.PokeStateForPoolTests(tuner.StateStreaming, "cnn", 0, older)
	p := newTestPool(t0, t1)

	got := p.findIdlestStreaming()
	if got == nil || got.ID() != 1 {
		t.Fatalf("expected tuner 1 (oldest activity) to be the idle-steal candidate")
	}
}

func TestFindIdlestStreaming_IgnoresTunersWithClients(t *testing.T) {
	t0 := tuner.New(0, tuner.Config{}, nil)
	t0.PokeStateForPoolTests(tuner.StateStreaming, "espn", 1, time.Now().Add(-1*time.Hour))
	p := newTestPool(t0)

	if got := p.findIdlestStreaming(); got != nil {
		t.Fatalf("tuner with attached clients must not be stealable, got tuner %d", got.ID())
	}
}
