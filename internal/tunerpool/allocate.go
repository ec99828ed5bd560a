package tunerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/snapetech/iptvgw/internal/catalog"
	"github.com/snapetech/iptvgw/internal/metrics"
	"github.com/snapetech/iptvgw/internal/tuner"
)

// Allocate executes the pool's allocation policy for channelId against cat,
// returning the assigned tuner plus a discriminant explaining any non-success
// (spec §9 Open Question: "superseded" vs "exhausted" must be distinguishable
// by callers, not just by log text).
func (p *Pool) Allocate(ctx context.Context, channelId string, cat *catalog.Catalog, client interface{ Write([]byte) (int, error) }) (*tuner.Tuner, AllocateOutcome, error) {
	t, outcome, err := p.allocate(ctx, channelId, cat, client)
	label := outcome.String()
	if err != nil && outcome == Exhausted {
		label = "error"
	}
	metrics.TunerAllocationsTotal.WithLabelValues(label).Inc()
	return t, outcome, err
}

func (p *Pool) allocate(ctx context.Context, channelId string, cat *catalog.Catalog, client interface{ Write([]byte) (int, error) }) (*tuner.Tuner, AllocateOutcome, error) {
	ch, ok := cat.ByID(channelId)
	if !ok {
		return nil, Exhausted, fmt.Errorf("tunerpool: unknown channel %q", channelId)
	}

	// Rule 1: reuse a tuner already streaming this channel.
	if t := p.findStreaming(channelId); t != nil {
		t.AddClient(client)
		return t, Allocated, nil
	}

	// Rule 2: join a tuner already mid-tune to this same channel.
	if t := p.findTuning(channelId); t != nil {
		if t, ok := p.awaitJoin(t, channelId); ok {
			t.AddClient(client)
			return t, Allocated, nil
		}
		// terminal without reaching streaming: fall through to later rules.
	}

	// Rule 3: another tuner is mid-tune to a *different* channel — record
	// this request as the pool's pending target and wait it out.
	if t := p.findTuningOtherThan(channelId); t != nil {
		return p.surfSupersede(ctx, t, ch, client)
	}

	// Rule 4: first free tuner.
	if t := p.findFree(); t != nil {
		return p.tuneAndAttach(ctx, t, ch, client)
	}

	// Rule 5: steal the idlest streaming tuner with no clients.
	if t := p.findIdlestStreaming(); t != nil {
		return p.tuneAndAttach(ctx, t, ch, client)
	}

	// Rule 6: single-tuner auto-switch. Restricted to exactly one tuner in
	// the pool (see DESIGN.md Open Question #2) so capacity-bearing pools
	// never surprise-preempt a streaming tuner that isn't idle.
	p.mu.Lock()
	single := len(p.tuners) == 1
	var onlyTuner *tuner.Tuner
	if single {
		onlyTuner = p.tuners[0]
	}
	p.mu.Unlock()
	if single && onlyTuner.State() == tuner.StateStreaming {
		return p.tuneAndAttach(ctx, onlyTuner, ch, client)
	}

	// Rule 7: exhausted.
	return nil, Exhausted, nil
}

func (p *Pool) findStreaming(channelId string) *tuner.Tuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tuners {
		if t.State() == tuner.StateStreaming && t.CurrentChannel() == channelId {
			return t
		}
	}
	return nil
}

func (p *Pool) findTuning(channelId string) *tuner.Tuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tuners {
		if t.State() == tuner.StateTuning && t.CurrentChannel() == channelId {
			return t
		}
	}
	return nil
}

func (p *Pool) findTuningOtherThan(channelId string) *tuner.Tuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tuners {
		if t.State() == tuner.StateTuning && t.CurrentChannel() != channelId {
			return t
		}
	}
	return nil
}

func (p *Pool) findFree() *tuner.Tuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tuners {
		if t.State() == tuner.StateFree {
			return t
		}
	}
	return nil
}

func (p *Pool) findIdlestStreaming() *tuner.Tuner {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *tuner.Tuner
	for _, t := range p.tuners {
		if t.State() != tuner.StateStreaming || t.ClientCount() != 0 {
			continue
		}
		if best == nil || t.LastActivity().Before(best.LastActivity()) {
			best = t
		}
	}
	return best
}

// awaitJoin polls t up to TuneJoinWindow (500ms interval) for it to settle
// into streaming (spec §4.1 rule 2). Returns (t, true) on success.
func (p *Pool) awaitJoin(t *tuner.Tuner, channelId string) (*tuner.Tuner, bool) {
	deadline := time.Now().Add(p.cfg.TuneJoinWindow)
	for time.Now().Before(deadline) {
		switch t.State() {
		case tuner.StateStreaming:
			if t.CurrentChannel() == channelId {
				return t, true
			}
			return nil, false
		case tuner.StateFree, tuner.StateError:
			return nil, false
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, false
}

// surfSupersede implements rule 3: record this request as the pool's
// pending target, wait out the in-flight tune, and either reassign the
// tuner to the new channel or report "superseded" if a newer request
// overtook this one while waiting.
func (p *Pool) surfSupersede(ctx context.Context, t *tuner.Tuner, ch catalog.Channel, client interface{ Write([]byte) (int, error) }) (*tuner.Tuner, AllocateOutcome, error) {
	p.mu.Lock()
	p.pendingGen++
	myGen := p.pendingGen
	p.pendingChannel = ch.ID
	p.mu.Unlock()

	deadline := time.Now().Add(p.cfg.SurfWaitWindow)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		stillPending := p.pendingGen == myGen
		p.mu.Unlock()
		if !stillPending {
			return nil, Superseded, nil
		}
		if t.State() != tuner.StateTuning {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}

	p.mu.Lock()
	stillPending := p.pendingGen == myGen
	p.mu.Unlock()
	if !stillPending {
		return nil, Superseded, nil
	}

	return p.tuneAndAttach(ctx, t, ch, client)
}

func (p *Pool) tuneAndAttach(ctx context.Context, t *tuner.Tuner, ch catalog.Channel, client interface{ Write([]byte) (int, error) }) (*tuner.Tuner, AllocateOutcome, error) {
	t.ForceRelease() // resets clientCount to 0 before reassigning, per rule 3/5/6
	if err := t.Tune(ctx, ch); err != nil {
		return nil, Exhausted, fmt.Errorf("tunerpool: tune %s on tuner %d: %w", ch.ID, t.ID(), err)
	}
	t.AddClient(client)
	return t, Allocated, nil
}
