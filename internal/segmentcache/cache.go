// Package segmentcache is the process-wide bounded, TTL'd cache of fetched
// HLS segment bytes keyed by their (base64-encoded) upstream URL, plus the
// per-content background prefetch task that populates it ahead of player
// requests.
package segmentcache

import (
	"context"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/snapetech/iptvgw/internal/metrics"
)

// Entry is one cached segment, per spec §3's SegmentCacheEntry.
type Entry struct {
	Bytes       []byte
	StoredAt    time.Time
	ContentType string
}

// Cache is a bounded LRU of Entry keyed by the encoded upstream URL, with a
// TTL enforced by a periodic janitor sweep independent of LRU eviction.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, Entry]
	ttl time.Duration

	janitorStop chan struct{}
	janitorDone chan struct{}
}

// New constructs a Cache bounded to size entries, evicting on a TTL sweep
// cadence of janitorTick. LRU (not FIFO) eviction is used for the
// over-capacity case, per spec §4.4's "LRU preferable" note.
func New(size int, ttl, janitorTick time.Duration) *Cache {
	if size <= 0 {
		size = 600
	}
	l, _ := lru.New[string, Entry](size)
	c := &Cache{lru: l, ttl: ttl}
	if janitorTick > 0 {
		c.janitorStop = make(chan struct{})
		c.janitorDone = make(chan struct{})
		go c.janitorLoop(janitorTick)
	}
	return c
}

// Get returns the cached entry for key, if present and not expired.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if ok && c.ttl > 0 && time.Since(e.StoredAt) > c.ttl {
		c.lru.Remove(key)
		ok = false
	}
	size := c.lru.Len()
	c.mu.Unlock()

	metrics.SegmentCacheSize.Set(float64(size))
	if !ok {
		metrics.SegmentCacheRequestsTotal.WithLabelValues("miss").Inc()
		return Entry{}, false
	}
	metrics.SegmentCacheRequestsTotal.WithLabelValues("hit").Inc()
	return e, true
}

// Put inserts or replaces the entry for key.
func (c *Cache) Put(key string, e Entry) {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now()
	}
	c.mu.Lock()
	c.lru.Add(key, e)
	size := c.lru.Len()
	c.mu.Unlock()
	metrics.SegmentCacheSize.Set(float64(size))
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stop halts the TTL janitor.
func (c *Cache) Stop() {
	if c.janitorStop == nil {
		return
	}
	close(c.janitorStop)
	<-c.janitorDone
}

func (c *Cache) janitorLoop(tick time.Duration) {
	defer close(c.janitorDone)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.janitorStop:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && now.Sub(e.StoredAt) > c.ttl {
			c.lru.Remove(key)
		}
	}
}

// Fetcher fetches one segment's bytes and content-type from upstream,
// returning (nil, "", err) on failure. ErrUpstreamGone signals a 403/503
// that should stop the prefetch walk for this content id.
type Fetcher func(ctx context.Context, upstreamURL string, headers map[string]string) ([]byte, string, error)

// ErrUpstreamGone is returned by a Fetcher when the upstream responded
// 403/503, meaning the content's StreamEntry URL has expired.
var ErrUpstreamGone = errGone{}

type errGone struct{}

func (errGone) Error() string { return "segmentcache: upstream returned 403/503" }

// Prefetcher walks a playlist's segments in order, populating cache ahead
// of player requests, with one in-flight prefetch per contentId at a time.
type Prefetcher struct {
	cache   *Cache
	fetch   Fetcher
	limiter *rate.Limiter

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewPrefetcher constructs a Prefetcher backed by cache, using fetch for
// upstream reads and delay as the inter-segment pacing (~20ms). Pacing is
// enforced with a token-bucket limiter rather than a flat sleep so a
// contentId whose segments are already cache-warm doesn't pay the delay at
// all, while a cold walk is still throttled to one fetch per delay tick.
func NewPrefetcher(cache *Cache, fetch Fetcher, delay time.Duration) *Prefetcher {
	var lim *rate.Limiter
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	}
	return &Prefetcher{cache: cache, fetch: fetch, limiter: lim, inFlight: make(map[string]struct{})}
}

// SegmentRef pairs an encoded cache key with the decoded upstream URL and
// headers needed to fetch it.
type SegmentRef struct {
	Key     string
	URL     string
	Headers map[string]string
}

// Start launches a background prefetch for contentId over segs, returning
// immediately. A second Start for the same contentId while one is already
// running is a no-op (single in-flight prefetch per contentId, per spec
// §4.4).
func (p *Prefetcher) Start(ctx context.Context, contentId string, segs []SegmentRef) {
	p.mu.Lock()
	if _, running := p.inFlight[contentId]; running {
		p.mu.Unlock()
		return
	}
	p.inFlight[contentId] = struct{}{}
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inFlight, contentId)
			p.mu.Unlock()
		}()
		p.run(ctx, segs)
	}()
}

func (p *Prefetcher) run(ctx context.Context, segs []SegmentRef) {
	for _, seg := range segs {
		if _, ok := p.cache.Get(seg.Key); ok {
			continue
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
		}
		bytes, contentType, err := p.fetch(ctx, seg.URL, seg.Headers)
		if err != nil {
			if err == ErrUpstreamGone {
				return
			}
			log.Printf("segmentcache: prefetch %s: %v", seg.URL, err)
			continue
		}
		p.cache.Put(seg.Key, Entry{Bytes: bytes, ContentType: contentType})
	}
}
