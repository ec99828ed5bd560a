// Package browser wraps a single long-lived chromedp browser shared by the
// whole process: one allocator, one browser context, one exclusive Page per
// caller (tuner or EPG ingestor). Event subscriptions are expressed as an
// explicit capability bag rather than ad-hoc callback registration, so every
// exit path (success, timeout, shutdown) has one Cancel to call.
package browser

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Browser owns the single shared chromedp allocator/browser context.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	pages   int
}

// Options configures the shared browser.
type Options struct {
	DebugPort  int    // remote debugging port; 0 lets chromedp pick
	ProfileDir string // persistent profile dir for cookies/auth state
	Headless   bool
}

// New starts the shared browser allocator. Call Close on shutdown.
func New(ctx context.Context, opts Options) (*Browser, error) {
	flags := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags = append(flags,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if opts.ProfileDir != "" {
		flags = append(flags, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.DebugPort > 0 {
		flags = append(flags, chromedp.Flag("remote-debugging-port", fmt.Sprintf("%d", opts.DebugPort)))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, flags...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start shared browser: %w", err)
	}
	return &Browser{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close tears down every page and the shared browser.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// NewPage creates a new exclusive tab under the shared browser. The caller
// (a Tuner or the EPG ingestor) owns it until ClosePage is called.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	pageCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: open page: %w", err)
	}
	b.mu.Lock()
	b.pages++
	b.mu.Unlock()
	return &Page{browser: b, ctx: pageCtx, cancel: cancel}, nil
}

// Page is one exclusive tab. Single-writer: only the owner may Run actions
// against it.
type Page struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// Context returns the page's chromedp context for use with chromedp.Run.
func (p *Page) Context() context.Context { return p.ctx }

// Run executes chromedp actions against this page with the given timeout.
func (p *Page) Run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Close releases the page. Safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.browser.mu.Lock()
		p.browser.pages--
		p.browser.mu.Unlock()
	})
}

// Event is one observed network response matching a Subscribe matcher.
type Event struct {
	RequestID network.RequestID
	URL       string
	MimeType  string
}

// Cancel stops a subscription. Must be called on every exit path.
type Cancel func()

// Subscribe installs a network-response listener on the page, filtered by
// matcher, and returns a channel of matching events plus a Cancel to detach
// the listener. This is the explicit-subscription-object replacement for the
// source's dynamic event callbacks (see DESIGN.md).
func (p *Page) Subscribe(matcher func(url, mimeType string) bool) (<-chan Event, Cancel) {
	events := make(chan Event, 32)
	var mu sync.Mutex
	closed := false

	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		url := resp.Response.URL
		mime := resp.Response.MimeType
		if !matcher(url, mime) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- Event{RequestID: resp.RequestID, URL: url, MimeType: mime}:
		default:
			log.Printf("browser: event buffer full, dropping %s", url)
		}
	})

	cancel := func() {
		// chromedp has no per-listener detach; the underlying hook is torn
		// down when the page's own context is cancelled (Page.Close). Here
		// we just stop forwarding so a slow/absent consumer can't block the
		// chromedp event loop and so cancel() is idempotent on every exit path.
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(events)
		}
	}
	return events, cancel
}
