package browser

import (
	"context"
	"fmt"

	"github.com/snapetech/iptvgw/internal/supervisor"
)

// Display is a dedicated virtual X framebuffer owned by one tuner, spawned
// and torn down with the same context-cancel-aware process idiom as
// internal/supervisor's other children.
type Display struct {
	Num  int
	proc *supervisor.Process
}

// EnsureDisplay starts an Xvfb instance on display :num at width x height.
// The tuner that calls this is the display's sole owner; Close must be
// called on every tuner shutdown or restart path.
func EnsureDisplay(ctx context.Context, num, width, height int) (*Display, error) {
	proc, err := supervisor.Start(ctx, supervisor.Spec{
		Name: fmt.Sprintf("xvfb:%d", num),
		Path: "Xvfb",
		Args: []string{
			fmt.Sprintf(":%d", num),
			"-screen", "0", fmt.Sprintf("%dx%dx24", width, height),
			"-nolisten", "tcp",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("browser: start virtual display :%d: %w", num, err)
	}
	return &Display{Num: num, proc: proc}, nil
}

// Addr returns the DISPLAY environment value for this display.
func (d *Display) Addr() string { return fmt.Sprintf(":%d", d.Num) }

// Close stops the Xvfb process.
func (d *Display) Close() error {
	return d.proc.Stop()
}
