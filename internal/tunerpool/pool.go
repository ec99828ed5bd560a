// Package tunerpool implements the Channel Tuning State Machine's pool-wide
// allocation policy: reuse, join-in-progress, surf supersession, free
// assignment, idle-stealing, and single-tuner auto-switch, plus the idle
// reaper that releases quiescent streaming tuners.
package tunerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snapetech/iptvgw/internal/browser"
	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/tuner"
)

// AllocateOutcome discriminates why Allocate did not return a usable tuner,
// resolving spec §9's "superseded vs exhausted are both nil" open question
// with a typed result instead of log-text inference.
type AllocateOutcome int

const (
	Allocated AllocateOutcome = iota
	Superseded
	Exhausted
)

func (o AllocateOutcome) String() string {
	switch o {
	case Allocated:
		return "allocated"
	case Superseded:
		return "superseded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Config configures pool-wide policy windows.
type Config struct {
	TuneJoinWindow time.Duration // bound on joining an in-progress tune (~30s)
	SurfWaitWindow time.Duration // bound on waiting out a surf-supersession (~35s)
	IdleTimeout    time.Duration // streaming->free release after clientCount=0 this long (~30s)
	IdleReapPeriod time.Duration // idle reaper sweep period (~60s)
}

func (c Config) withDefaults() Config {
	if c.TuneJoinWindow <= 0 {
		c.TuneJoinWindow = 30 * time.Second
	}
	if c.SurfWaitWindow <= 0 {
		c.SurfWaitWindow = 35 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.IdleReapPeriod <= 0 {
		c.IdleReapPeriod = 60 * time.Second
	}
	return c
}

// StatusEntry is one tuner's snapshot for the /tuners and /stats endpoints.
type StatusEntry struct {
	ID             int
	State          tuner.State
	CurrentChannel string
	ClientCount    int
	LastActivity   time.Time
}

// Pool owns every Tuner exclusively and arbitrates allocation across them.
type Pool struct {
	cfg Config
	b   *browser.Browser

	mu     sync.Mutex
	tuners []*tuner.Tuner

	// pending is the pool-wide "most recently requested while a surf
	// supersession wait is in flight" target, per spec §4.1 rule 3.
	pendingGen     uint64
	pendingChannel string

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// New constructs an empty pool. Call Initialize to bring tuners up.
func New(cfg Config, b *browser.Browser) *Pool {
	return &Pool{cfg: cfg.withDefaults(), b: b}
}

// Initialize brings n tuners to free. Individual tuner start failures are
// recorded and do not abort the rest; the pool continues with survivors.
// Starts the periodic idle reaper.
func (p *Pool) Initialize(ctx context.Context, n int, newTunerConfig func(id int) tuner.Config) []error {
	var errs []error
	p.mu.Lock()
	for i := 0; i < n; i++ {
		t := tuner.New(i, newTunerConfig(i), p.b)
		if err := t.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tuner %d: %w", i, err))
			continue
		}
		p.tuners = append(p.tuners, t)
	}
	p.mu.Unlock()

	p.reaperStop = make(chan struct{})
	p.reaperDone = make(chan struct{})
	go p.reapLoop()
	return errs
}

// Shutdown cancels every tuner's encoder and browser page and stops the
// idle reaper.
func (p *Pool) Shutdown() {
	if p.reaperStop != nil {
		close(p.reaperStop)
		<-p.reaperDone
	}
	p.mu.Lock()
	tuners := append([]*tuner.Tuner{}, p.tuners...)
	p.mu.Unlock()
	for _, t := range tuners {
		t.Stop()
	}
}

// Status returns a snapshot of every tuner for the operational endpoints.
func (p *Pool) Status() []StatusEntry {
	p.mu.Lock()
	tuners := append([]*tuner.Tuner{}, p.tuners...)
	p.mu.Unlock()

	out := make([]StatusEntry, 0, len(tuners))
	for _, t := range tuners {
		out = append(out, StatusEntry{
			ID:             t.ID(),
			State:          t.State(),
			CurrentChannel: t.CurrentChannel(),
			ClientCount:    t.ClientCount(),
			LastActivity:   t.LastActivity(),
		})
	}
	return out
}

// ReleaseClient decrements a tuner's client count by detaching w and arms
// the encoder's idle timer if the tuner is now clientless.
func (p *Pool) ReleaseClient(tunerID int, w interface{ Write([]byte) (int, error) }) error {
	t, err := p.byID(tunerID)
	if err != nil {
		return err
	}
	t.RemoveClient(w)
	return nil
}

// ReleaseOne decrements a tuner's client count by one without detaching a
// specific writer, for the administrative /tuner/{id}/release endpoint.
func (p *Pool) ReleaseOne(tunerID int) error {
	t, err := p.byID(tunerID)
	if err != nil {
		return err
	}
	t.ReleaseOneClient()
	return nil
}

// ForceRelease stops the tuner's encoder, resets it to free, and drops all
// attached clients, regardless of current state.
func (p *Pool) ForceRelease(tunerID int) error {
	t, err := p.byID(tunerID)
	if err != nil {
		return err
	}
	t.ForceRelease()
	return nil
}

func (p *Pool) byID(id int) (*tuner.Tuner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tuners {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tunerpool: no tuner with id %d", id)
}

func (p *Pool) reapLoop() {
	defer close(p.reaperDone)
	ticker := time.NewTicker(p.cfg.IdleReapPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.reaperStop:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce releases any streaming tuner that has had zero clients for
// longer than IdleTimeout, per spec §4.1's idle reaper.
func (p *Pool) reapOnce() {
	p.mu.Lock()
	tuners := append([]*tuner.Tuner{}, p.tuners...)
	p.mu.Unlock()

	now := time.Now()
	for _, t := range tuners {
		if t.State() != tuner.StateStreaming {
			continue
		}
		if t.ClientCount() != 0 {
			continue
		}
		if now.Sub(t.LastActivity()) > p.cfg.IdleTimeout {
			t.Release()
		}
	}
}
