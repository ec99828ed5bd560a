package provider

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snapetech/iptvgw/internal/metrics"
)

// ManagerConfig tunes the StreamEntry refresh lifecycle.
type ManagerConfig struct {
	RefreshInterval   time.Duration // re-extract after this much time since firstAcquiredAt (~60s)
	InactivityTimeout time.Duration // drop entry after this much time since lastAccessed (~5m)
	RefreshTick       time.Duration // per-entry tick period (~15s)
	ExtractTimeout    time.Duration // bound on a single ExtractStreamUrl call
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 60 * time.Second
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 5 * time.Minute
	}
	if c.RefreshTick <= 0 {
		c.RefreshTick = 15 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 45 * time.Second
	}
	return c
}

// Manager owns the StreamEntry map for one Provider: extraction, caching,
// proactive refresh, and inactivity eviction.
type Manager struct {
	provider Provider
	cfg      ManagerConfig

	mu      sync.Mutex
	entries map[string]*entry
	// inFlight dedups concurrent first-extraction calls for the same id, the
	// same single-flight idiom as the teacher's materializer cache.
	inFlight map[string]chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type entry struct {
	mu sync.Mutex

	url         string
	headers     map[string]string
	contentType string

	firstAcquiredAt time.Time
	lastAccessed    time.Time

	refreshing           bool
	failuresSinceSuccess int // drives the adaptive refresh interval, see DESIGN.md Open Question 1

	stop chan struct{}
}

// NewManager constructs a Manager bound to provider. Call Stop on shutdown.
func NewManager(p Provider, cfg ManagerConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		provider: p,
		cfg:      cfg.withDefaults(),
		entries:  make(map[string]*entry),
		inFlight: make(map[string]chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetActiveStreamUrl returns the cached URL for id, if present, and touches
// lastAccessed. Never triggers extraction.
func (m *Manager) GetActiveStreamUrl(id string) (url string, headers map[string]string, contentType string, ok bool) {
	m.mu.Lock()
	e, exists := m.entries[id]
	m.mu.Unlock()
	if !exists {
		return "", nil, "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url == "" {
		return "", nil, "", false
	}
	e.lastAccessed = time.Now()
	return e.url, e.headers, e.contentType, true
}

// Touch extends an entry's activity lifetime without returning its URL; used
// by segment requests that already hold their own resolved URL.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	e, exists := m.entries[id]
	m.mu.Unlock()
	if !exists {
		return
	}
	e.mu.Lock()
	e.lastAccessed = time.Now()
	e.mu.Unlock()
}

// EnsureStreamUrl returns the active URL for id, extracting on demand (and
// starting the refresh timer) if it is not already cached.
func (m *Manager) EnsureStreamUrl(ctx context.Context, id, contentType string, hints ExtractHints) (string, map[string]string, error) {
	if url, headers, _, ok := m.GetActiveStreamUrl(id); ok {
		return url, headers, nil
	}

	m.mu.Lock()
	if ch, busy := m.inFlight[id]; busy {
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
		if url, headers, _, ok := m.GetActiveStreamUrl(id); ok {
			return url, headers, nil
		}
		return "", nil, fmt.Errorf("provider %s: extraction for %s did not produce a usable URL", m.provider.ID(), id)
	}
	done := make(chan struct{})
	m.inFlight[id] = done
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, id)
		m.mu.Unlock()
		close(done)
	}()

	extractCtx, cancel := context.WithTimeout(ctx, m.cfg.ExtractTimeout)
	defer cancel()
	res, err := m.provider.ExtractStreamUrl(extractCtx, id, contentType, hints)
	if err != nil {
		metrics.ProviderExtractionsTotal.WithLabelValues(m.provider.ID(), "error").Inc()
		return "", nil, fmt.Errorf("provider %s: extract %s: %w", m.provider.ID(), id, err)
	}
	metrics.ProviderExtractionsTotal.WithLabelValues(m.provider.ID(), "ok").Inc()

	now := time.Now()
	e := &entry{
		url:             res.URL,
		headers:         res.Headers,
		contentType:     res.ContentType,
		firstAcquiredAt: now,
		lastAccessed:    now,
		stop:            make(chan struct{}),
	}
	m.mu.Lock()
	m.entries[id] = e
	m.setActiveEntriesGaugeLocked()
	m.mu.Unlock()

	go m.refreshLoop(id, e, contentType, hints)

	return e.url, e.headers, nil
}

// setActiveEntriesGaugeLocked reports the entry count; callers must already
// hold m.mu.
func (m *Manager) setActiveEntriesGaugeLocked() {
	metrics.ProviderStreamEntriesActive.WithLabelValues(m.provider.ID()).Set(float64(len(m.entries)))
}

// UrgentRefresh synchronously re-extracts id's stream URL, used when a
// segment fetch observes an upstream 403/503 (URL expired early).
func (m *Manager) UrgentRefresh(ctx context.Context, id, contentType string, hints ExtractHints) (string, map[string]string, error) {
	m.mu.Lock()
	e, exists := m.entries[id]
	m.mu.Unlock()
	if !exists {
		return m.EnsureStreamUrl(ctx, id, contentType, hints)
	}

	extractCtx, cancel := context.WithTimeout(ctx, m.cfg.ExtractTimeout)
	defer cancel()
	res, err := m.provider.ExtractStreamUrl(extractCtx, id, contentType, hints)
	if err != nil {
		e.mu.Lock()
		e.failuresSinceSuccess++
		e.mu.Unlock()
		metrics.ProviderRefreshesTotal.WithLabelValues(m.provider.ID(), "urgent-error").Inc()
		return "", nil, fmt.Errorf("provider %s: urgent refresh %s: %w", m.provider.ID(), id, err)
	}
	metrics.ProviderRefreshesTotal.WithLabelValues(m.provider.ID(), "urgent").Inc()

	e.mu.Lock()
	e.url = res.URL
	e.headers = res.Headers
	if res.ContentType != "" {
		e.contentType = res.ContentType
	}
	e.firstAcquiredAt = time.Now()
	e.failuresSinceSuccess = 0
	e.mu.Unlock()
	return res.URL, res.Headers, nil
}

// refreshLoop ticks every RefreshTick and implements the timer logic of
// spec §4.3: drop on inactivity, else proactively refresh once past the
// (adaptive) refresh interval.
func (m *Manager) refreshLoop(id string, e *entry, contentType string, hints ExtractHints) {
	ticker := time.NewTicker(m.cfg.RefreshTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if m.tick(id, e, contentType, hints) {
				return
			}
		}
	}
}

// tick runs one refresh-loop iteration; returns true if the entry was
// dropped (loop should exit).
func (m *Manager) tick(id string, e *entry, contentType string, hints ExtractHints) bool {
	e.mu.Lock()
	idleFor := time.Since(e.lastAccessed)
	if idleFor > m.cfg.InactivityTimeout {
		e.mu.Unlock()
		m.mu.Lock()
		delete(m.entries, id)
		m.setActiveEntriesGaugeLocked()
		m.mu.Unlock()
		log.Printf("provider[%s]: dropping stream entry %s after %s idle", m.provider.ID(), id, idleFor.Round(time.Second))
		return true
	}

	sinceAcquired := time.Since(e.firstAcquiredAt)
	interval := m.adaptiveInterval(e)
	if sinceAcquired <= interval || e.refreshing {
		e.mu.Unlock()
		return false
	}
	e.refreshing = true
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ExtractTimeout)
	res, err := m.provider.ExtractStreamUrl(ctx, id, contentType, hints)
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshing = false
	if err != nil {
		e.failuresSinceSuccess++
		metrics.ProviderRefreshesTotal.WithLabelValues(m.provider.ID(), "proactive-error").Inc()
		log.Printf("provider[%s]: refresh %s failed (attempt %d): %v", m.provider.ID(), id, e.failuresSinceSuccess, err)
		return false
	}
	metrics.ProviderRefreshesTotal.WithLabelValues(m.provider.ID(), "proactive").Inc()
	e.url = res.URL
	e.headers = res.Headers
	if res.ContentType != "" {
		e.contentType = res.ContentType
	}
	e.firstAcquiredAt = time.Now()
	e.failuresSinceSuccess = 0
	return false
}

// adaptiveInterval resolves spec §9 Open Question 1: after repeated
// extraction failures, shorten the refresh interval (halving, floored at
// 15s) so the entry re-tries sooner instead of riding out the full interval
// against an upstream that may have already rotated its URL again.
func (m *Manager) adaptiveInterval(e *entry) time.Duration {
	interval := m.cfg.RefreshInterval
	if e.failuresSinceSuccess <= 3 {
		return interval
	}
	halvings := e.failuresSinceSuccess - 3
	for i := 0; i < halvings && interval > 15*time.Second; i++ {
		interval /= 2
	}
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	return interval
}

// Forget evicts id immediately, stopping its refresh loop without waiting for
// the inactivity timeout. Used when an upstream signals the content no
// longer exists.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	e, exists := m.entries[id]
	if exists {
		delete(m.entries, id)
		m.setActiveEntriesGaugeLocked()
	}
	m.mu.Unlock()
	if exists {
		close(e.stop)
	}
}

// Stop cancels all refresh loops.
func (m *Manager) Stop() {
	m.cancel()
}
