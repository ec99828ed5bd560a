// Package tuner implements one headless-browser-backed tuner: a state
// machine driving a shared browser page through a provider's web guide,
// capturing the resulting video via a CaptureEncoder, and fanning the
// resulting MPEG-TS bytes out to zero or more HTTP clients.
package tuner

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/snapetech/iptvgw/internal/browser"
	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/fanout"
	"github.com/snapetech/iptvgw/internal/metrics"
)

// Config configures one Tuner's browser/display/encoder resources.
type Config struct {
	ID           int
	DisplayNum   int
	DebugPort    int
	PlayerBaseURL string
	GuidePath    string
	Encoder      EncoderConfig
}

// Tuner owns one display, one browser page, one CaptureEncoder, and the
// fan-out that multiplexes its captured stream to clients. All state
// transitions are serialized through mu; only one goroutine drives the
// browser page at a time.
type Tuner struct {
	id  int
	cfg Config

	mu             sync.Mutex
	state          State
	currentChannel string // catalog channel ID, "" when free
	clientCount    int
	lastActivity   time.Time
	tuneGeneration uint64 // bumped on every new Tune call; lets a superseded tune notice

	browser *browser.Browser
	display *browser.Display
	page    *browser.Page
	encoder *CaptureEncoder
	fan     *fanout.Fanout
}

// New constructs a Tuner bound to the shared browser b. Start must be
// called before Tune.
func New(id int, cfg Config, b *browser.Browser) *Tuner {
	fan := fanout.New()
	idStr := strconv.Itoa(id)
	fan.OnDrop = func() { metrics.FanoutWriteDropsTotal.WithLabelValues(idStr).Inc() }
	return &Tuner{
		id:      id,
		cfg:     cfg,
		state:   StateStopped,
		browser: b,
		fan:     fan,
		encoder: NewCaptureEncoder(cfg.Encoder, fan, idStr),
	}
}

// ID returns the tuner's pool index.
func (t *Tuner) ID() int { return t.id }

// State returns the current lifecycle state.
func (t *Tuner) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// CurrentChannel returns the channel ID currently tuned, or "" if free.
func (t *Tuner) CurrentChannel() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentChannel
}

// ClientCount returns the number of attached stream clients.
func (t *Tuner) ClientCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientCount
}

// LastActivity returns the last time a client attached, detached, or the
// tuner finished a tune.
func (t *Tuner) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

func (t *Tuner) setState(s State) error {
	if !canTransition(t.state, s) {
		return fmt.Errorf("tuner %d: invalid transition %s -> %s", t.id, t.state, s)
	}
	t.state = s
	metrics.SetTunerState(t.idStr(), string(s))
	return nil
}

func (t *Tuner) idStr() string { return strconv.Itoa(t.id) }

// Start brings the tuner up from stopped: acquires its virtual display and
// a shared-browser page, then settles into free.
func (t *Tuner) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateStopped {
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: Start called from state %s", t.id, t.state)
	}
	if err := t.setState(StateStarting); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	disp, err := browser.EnsureDisplay(ctx, t.cfg.DisplayNum, t.cfg.Encoder.Width, t.cfg.Encoder.Height)
	if err != nil {
		t.mu.Lock()
		t.setState(StateError)
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: start display: %w", t.id, err)
	}

	page, err := t.browser.NewPage(ctx)
	if err != nil {
		disp.Close()
		t.mu.Lock()
		t.setState(StateError)
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: open page: %w", t.id, err)
	}

	t.mu.Lock()
	t.display = disp
	t.page = page
	t.lastActivity = time.Now()
	if err := t.setState(StateFree); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	return nil
}

// Stop tears the tuner down to stopped: stops the encoder, closes the page
// and display. Safe to call from any state.
func (t *Tuner) Stop() {
	t.encoder.Stop()
	t.mu.Lock()
	page := t.page
	disp := t.display
	t.page = nil
	t.display = nil
	t.currentChannel = ""
	t.state = StateStopped
	t.mu.Unlock()
	if page != nil {
		page.Close()
	}
	if disp != nil {
		if err := disp.Close(); err != nil {
			log.Printf("tuner %d: close display: %v", t.id, err)
		}
	}
}

// Tune drives the tuning procedure (steps A-F) against ch, transitioning
// free/streaming -> tuning -> streaming on success. If a newer Tune call
// starts while this one is driving the page (possible once ForceRelease has
// returned the tuner to free), this call still runs its page steps to the
// end, then returns a "tune superseded" error and leaves the state to the
// newer call.
func (t *Tuner) Tune(ctx context.Context, ch catalog.Channel) error {
	t.mu.Lock()
	if t.state != StateFree && t.state != StateStreaming {
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: Tune called from state %s", t.id, t.state)
	}
	if err := t.setState(StateTuning); err != nil {
		t.mu.Unlock()
		return err
	}
	t.tuneGeneration++
	myGen := t.tuneGeneration
	// Set optimistically so a concurrent Allocate can recognize and join an
	// in-progress tune to this same channel (spec §4.1 allocation rule 2).
	t.currentChannel = ch.ID
	page := t.page
	t.mu.Unlock()

	if page == nil {
		t.mu.Lock()
		t.setState(StateError)
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: no page bound", t.id)
	}

	target := TuneTarget{Name: ch.Name, Number: ch.Number, SearchTerms: ch.SearchTerms}
	err := tuneOnPage(ctx, page.Run, t.cfg.PlayerBaseURL, t.cfg.GuidePath, target)

	t.mu.Lock()
	if t.tuneGeneration != myGen {
		// Superseded by a newer Tune call while we were driving the page;
		// leave state alone for the newer call to own.
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: tune superseded", t.id)
	}
	if err != nil {
		t.setState(StateFree)
		t.currentChannel = ""
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: tune %s: %w", t.id, ch.ID, err)
	}
	t.currentChannel = ch.ID
	t.lastActivity = time.Now()
	if err := t.setState(StateStreaming); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := t.encoder.Start(ctx, t.cfg.DisplayNum); err != nil {
		t.mu.Lock()
		t.setState(StateError)
		t.mu.Unlock()
		return fmt.Errorf("tuner %d: start encoder: %w", t.id, err)
	}
	return nil
}

// AddClient attaches w to the tuner's fan-out and marks activity.
func (t *Tuner) AddClient(w fanoutWriter) {
	t.fan.Add(w)
	t.encoder.AddClient()
	t.mu.Lock()
	t.clientCount++
	t.lastActivity = time.Now()
	count := t.clientCount
	t.mu.Unlock()
	metrics.TunerClientCount.WithLabelValues(t.idStr()).Set(float64(count))
}

// RemoveClient detaches w from the tuner's fan-out.
func (t *Tuner) RemoveClient(w fanoutWriter) {
	t.fan.Remove(w)
	t.mu.Lock()
	if t.clientCount > 0 {
		t.clientCount--
	}
	t.lastActivity = time.Now()
	count := t.clientCount
	t.mu.Unlock()
	t.encoder.RemoveClient()
	metrics.TunerClientCount.WithLabelValues(t.idStr()).Set(float64(count))
}

// fanoutWriter is io.Writer, aliased here so callers don't need to import
// internal/fanout just to attach an http.ResponseWriter.
type fanoutWriter = interface {
	Write(p []byte) (int, error)
}

// ReleaseOneClient decrements the client count without detaching any
// specific fan-out writer, for the administrative /tuner/{id}/release
// endpoint where the caller holds no writer identity of its own (the
// streaming connection detaches itself via RemoveClient on disconnect).
func (t *Tuner) ReleaseOneClient() {
	t.mu.Lock()
	if t.clientCount > 0 {
		t.clientCount--
	}
	t.lastActivity = time.Now()
	count := t.clientCount
	t.mu.Unlock()
	t.encoder.RemoveClient()
	metrics.TunerClientCount.WithLabelValues(t.idStr()).Set(float64(count))
}

// EncoderStats returns the current encoder health snapshot.
func (t *Tuner) EncoderStats() Stats {
	return t.encoder.Stats()
}

// Release moves a streaming tuner back to free once its last client has
// detached; it is the idle path, distinct from the error path.
func (t *Tuner) Release() {
	t.mu.Lock()
	if t.state != StateStreaming {
		t.mu.Unlock()
		return
	}
	if err := t.setState(StateFree); err != nil {
		t.mu.Unlock()
		return
	}
	t.currentChannel = ""
	t.mu.Unlock()
	t.encoder.Stop()
}

// PokeStateForPoolTests forces the tuner's state/currentChannel/clientCount
// directly, bypassing the browser-driven transitions in Start/Tune. Exists
// because internal/tunerpool's allocation policy (reuse/join/surf/steal) is
// pure arbitration logic over tuner state and needs to be exercised without
// a live chromedp browser in unit tests; production code never calls this.
func (t *Tuner) PokeStateForPoolTests(s State, channelID string, clientCount int, lastActivity time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
	t.currentChannel = channelID
	t.clientCount = clientCount
	t.lastActivity = lastActivity
}

// ForceRelease tears down a tuning or streaming session immediately,
// regardless of attached clients, and returns the tuner to free.
func (t *Tuner) ForceRelease() {
	t.encoder.Stop()
	t.fan.CloseAll()
	t.mu.Lock()
	t.clientCount = 0
	t.currentChannel = ""
	if t.state != StateStopped {
		t.state = StateFree
	}
	t.lastActivity = time.Now()
	state := t.state
	t.mu.Unlock()
	metrics.TunerClientCount.WithLabelValues(t.idStr()).Set(0)
	metrics.SetTunerState(t.idStr(), string(state))
}
