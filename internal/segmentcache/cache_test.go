package segmentcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := New(10, 0, 0)
	c.Put("k1", Entry{Bytes: []byte("hello"), ContentType: "video/mp2t"})
	e, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(e.Bytes) != "hello" {
		t.Errorf("got %q", e.Bytes)
	}
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := New(10, 0, 0)
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestCache_TTLExpiresEntryOnGet(t *testing.T) {
	c := New(10, 10*time.Millisecond, 0)
	c.Put("k1", Entry{Bytes: []byte("x")})
	time.Sleep(25 * time.Millisecond)
	if _, ok := c.Get("k1"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCache_BoundedSizeEvicts(t *testing.T) {
	c := New(2, 0, 0)
	c.Put("a", Entry{Bytes: []byte("1")})
	c.Put("b", Entry{Bytes: []byte("2")})
	c.Put("c", Entry{Bytes: []byte("3")})
	if c.Len() != 2 {
		t.Fatalf("expected bounded size 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected least-recently-used entry 'a' to be evicted")
	}
}

func TestPrefetcher_SkipsAlreadyCachedAndStopsOnGone(t *testing.T) {
	c := New(10, 0, 0)
	c.Put("seg1", Entry{Bytes: []byte("cached")})

	var fetchCount int32
	fetch := func(ctx context.Context, url string, headers map[string]string) ([]byte, string, error) {
		atomic.AddInt32(&fetchCount, 1)
		if url == "seg3-url" {
			return nil, "", ErrUpstreamGone
		}
		return []byte("data"), "video/mp2t", nil
	}
	p := NewPrefetcher(c, fetch, 0)

	done := make(chan struct{})
	go func() {
		p.run(context.Background(), []SegmentRef{
			{Key: "seg1", URL: "seg1-url"},
			{Key: "seg2", URL: "seg2-url"},
			{Key: "seg3", URL: "seg3-url"},
			{Key: "seg4", URL: "seg4-url"},
		})
		close(done)
	}()
	<-done

	if atomic.LoadInt32(&fetchCount) != 2 {
		t.Errorf("expected 2 fetches (seg1 skipped via cache hit, seg4 skipped after gone), got %d", fetchCount)
	}
	if _, ok := c.Get("seg2"); !ok {
		t.Error("expected seg2 to be fetched and cached")
	}
	if _, ok := c.Get("seg4"); ok {
		t.Error("expected seg4 to never be fetched after upstream-gone")
	}
}

func TestPrefetcher_OneInFlightPerContentId(t *testing.T) {
	c := New(10, 0, 0)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context, url string, headers map[string]string) ([]byte, string, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return []byte("x"), "video/mp2t", nil
	}
	p := NewPrefetcher(c, fetch, 0)

	p.Start(context.Background(), "content-1", []SegmentRef{{Key: "s1", URL: "u1"}})
	<-started
	p.Start(context.Background(), "content-1", []SegmentRef{{Key: "s1", URL: "u1"}}) // should be a no-op
	close(release)
	time.Sleep(20 * time.Millisecond)

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 fetch call across both Start calls, got %d", calls)
	}
}
