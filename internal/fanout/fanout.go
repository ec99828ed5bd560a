// Package fanout implements the one-producer-many-consumer broadcast used by
// CaptureEncoder: bytes written once are pushed to every attached writer;
// a writer whose write errors or comes up short is dropped on the spot. There
// is no per-client buffering: writers are written one after another in the
// producer's goroutine, so a slow writer delays the producer and every other
// writer, and slowness alone never causes a writer to be dropped.
package fanout

import (
	"io"
	"sync"
)

// Fanout broadcasts producer bytes to zero or more writers attached after
// construction. A writer attached after byte b was written never sees b or
// anything before it — only its own monotonic suffix of the stream.
type Fanout struct {
	mu      sync.Mutex
	writers map[io.Writer]struct{}

	// OnDrop, if set, is called once per writer dropped by Write due to a
	// failed or short write. Left nil by default; owners that want
	// drop metrics set it after New.
	OnDrop func()
}

// New returns an empty Fanout.
func New() *Fanout {
	return &Fanout{writers: make(map[io.Writer]struct{})}
}

// Add attaches w. Subsequent Write calls push to w until it errors or is
// explicitly removed.
func (f *Fanout) Add(w io.Writer) {
	f.mu.Lock()
	f.writers[w] = struct{}{}
	f.mu.Unlock()
}

// Remove detaches w. Safe to call even if w was already removed.
func (f *Fanout) Remove(w io.Writer) {
	f.mu.Lock()
	delete(f.writers, w)
	f.mu.Unlock()
}

// Count returns the number of currently attached writers.
func (f *Fanout) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writers)
}

// CloseAll detaches every writer, closing any that implement io.Closer. Used
// on encoder-abandon paths where no further bytes will ever be produced.
func (f *Fanout) CloseAll() {
	f.mu.Lock()
	targets := make([]io.Writer, 0, len(f.writers))
	for w := range f.writers {
		targets = append(targets, w)
	}
	f.writers = make(map[io.Writer]struct{})
	f.mu.Unlock()

	for _, w := range targets {
		if c, ok := w.(io.Closer); ok {
			c.Close()
		}
	}
}

// Write pushes p to every attached writer. Any writer whose Write errors or
// writes a short count is removed immediately (write-drop policy). Writers
// are called one after another, so this call lasts as long as all of their
// Write calls together.
// Returns len(p), nil always — the producer side never observes a consumer
// failure.
func (f *Fanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	targets := make([]io.Writer, 0, len(f.writers))
	for w := range f.writers {
		targets = append(targets, w)
	}
	f.mu.Unlock()

	var dead []io.Writer
	for _, w := range targets {
		n, err := w.Write(p)
		if err != nil || n != len(p) {
			dead = append(dead, w)
		}
	}
	if len(dead) > 0 {
		f.mu.Lock()
		for _, w := range dead {
			delete(f.writers, w)
		}
		f.mu.Unlock()
		if f.OnDrop != nil {
			for range dead {
				f.OnDrop()
			}
		}
	}
	return len(p), nil
}
