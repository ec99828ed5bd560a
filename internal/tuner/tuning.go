package tuner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// guideRowSelector and playAffordanceSelector are generic, overridable via
// TuneOptions; the exact DOM shape of any given upstream web player is site
// trivia the core deliberately does not hardcode (spec §1 — provider-specific
// scraping trivia is an external concern). The defaults target a reasonably
// generic guide layout: rows carrying role="row" or a data-channel attribute,
// with accessible text taken from the row's innerText.
const (
	defaultGuideRowSelector       = `[role="row"], [data-channel], .guide-row, .channel-row`
	defaultPlayAffordanceSelector = `[aria-label*="play" i], [aria-label*="watch" i], [aria-label*="tune" i], svg.play-icon, .play-button`
)

// TuneTarget is the channel descriptor the tuning procedure navigates to.
type TuneTarget struct {
	Name        string
	Number      string
	SearchTerms []string
}

// tuneOnPage runs the tuning procedure (spec §4.1 steps A-F) against page,
// returning once the media element is playing (or proceeding best-effort
// past soft timeouts per spec). It does not start the CaptureEncoder —
// that's step F, driven by the caller once tuneOnPage returns nil.
func tuneOnPage(ctx context.Context, run func(time.Duration, ...chromedp.Action) error, siteURL, guidePath string, target TuneTarget) error {
	if err := stepA_ensureGuideView(run, siteURL, guidePath); err != nil {
		return fmt.Errorf("step A (guide view): %w", err)
	}

	selector, err := stepB_locateChannel(run, target)
	if err != nil {
		return fmt.Errorf("step B (locate channel): %w", err)
	}

	if err := stepC_clickAndAwaitPlayAffordance(run, selector); err != nil {
		return fmt.Errorf("step C (click/play affordance): %w", err)
	}

	// Step D: best-effort; proceeds on timeout by design.
	_ = stepD_waitMediaReady(run)

	if err := stepE_normalizeViewport(run); err != nil {
		return fmt.Errorf("step E (normalize viewport): %w", err)
	}

	return nil
}

func stepA_ensureGuideView(run func(time.Duration, ...chromedp.Action) error, siteURL, guidePath string) error {
	var onGuide bool
	err := run(5*time.Second, chromedp.Evaluate(
		fmt.Sprintf(`location.pathname.indexOf(%q) !== -1`, guidePath), &onGuide))
	if err != nil || !onGuide {
		target := strings.TrimSuffix(siteURL, "/") + guidePath
		if err := run(15*time.Second, chromedp.Navigate(target)); err != nil {
			return err
		}
	}
	// Poll up to 10s (300ms interval) for at least one guide row; proceed on
	// timeout regardless, per spec.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var count int
		_ = run(2*time.Second, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelectorAll(%q).length`, defaultGuideRowSelector), &count))
		if count > 0 {
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	return nil
}

// stepB_locateChannel evaluates the ordered match policy client-side (same
// priority order as internal/tuner/match.go: search terms, zero-padded
// number, unpadded number, full name, stoplisted first word) and returns a
// CSS selector uniquely identifying the matched row via a data attribute it
// stamps on the element.
func stepB_locateChannel(run func(time.Duration, ...chromedp.Action) error, target TuneTarget) (string, error) {
	script := buildLocateChannelJS(target)
	const marker = `iptvgw-matched-row`

	for scroll := 0; scroll <= 15; scroll++ {
		var found bool
		if err := run(5*time.Second, chromedp.Evaluate(script, &found)); err != nil {
			return "", err
		}
		if found {
			return `[data-` + marker + `="1"]`, nil
		}
		if scroll == 15 {
			break
		}
		_ = run(2*time.Second, chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil))
		time.Sleep(150 * time.Millisecond)
	}
	return "", fmt.Errorf("channel %q (number %s) not found in guide after scrolling", target.Name, target.Number)
}

// buildLocateChannelJS renders a JS snippet that walks guide rows in DOM
// order and marks the first row whose accessible text satisfies the ordered
// match policy, mirroring internal/tuner/match.go's Go reference
// implementation (kept as the unit-testable source of truth for the policy;
// this JS is the in-page execution of the same rules).
func buildLocateChannelJS(target TuneTarget) string {
	var terms []string
	for _, t := range target.SearchTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		terms = append(terms, jsQuote(t))
	}
	num := strings.TrimSpace(target.Number)
	var numPadded, numBare string
	if num != "" && isNumeric(num) {
		if len(num) <= 2 {
			numPadded = fmt.Sprintf(" %02s ", num)
		} else {
			numBare = " " + num + " "
		}
	}
	name := strings.ToLower(strings.TrimSpace(target.Name))
	firstWord := name
	if idx := strings.IndexByte(name, ' '); idx >= 0 {
		firstWord = name[:idx]
	}
	useFirstWord := len(firstWord) > 3
	for stopped := range networkPrefixStoplist {
		if firstWord == stopped {
			useFirstWord = false
		}
	}

	return fmt.Sprintf(`(function(){
  var rows = document.querySelectorAll(%q);
  var terms = [%s];
  var numPadded = %q, numBare = %q, fullName = %q, firstWord = %q, useFirstWord = %t;
  for (var i = 0; i < rows.length; i++) {
    var el = rows[i];
    var label = (el.innerText || el.textContent || '').toLowerCase();
    var padded = ' ' + label.trim().replace(/\s+/g, ' ') + ' ';
    var hit = false;
    for (var t = 0; t < terms.length; t++) { if (label.indexOf(terms[t]) !== -1) { hit = true; break; } }
    if (!hit && numPadded && padded.indexOf(numPadded) !== -1) hit = true;
    if (!hit && numBare && padded.indexOf(numBare) !== -1) hit = true;
    if (!hit && fullName && label.indexOf(fullName) !== -1) hit = true;
    if (!hit && useFirstWord && label.indexOf(firstWord) !== -1) hit = true;
    if (hit) {
      el.setAttribute('data-iptvgw-matched-row', '1');
      return true;
    }
  }
  return false;
})()`, defaultGuideRowSelector, strings.Join(terms, ","), numPadded, numBare, name, firstWord, useFirstWord)
}

func jsQuote(s string) string {
	return fmt.Sprintf("%q", s)
}

func stepC_clickAndAwaitPlayAffordance(run func(time.Duration, ...chromedp.Action) error, selector string) error {
	if err := run(5*time.Second, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return err
	}
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		var found bool
		_ = run(2*time.Second, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelectorAll(%q).length > 0`, defaultPlayAffordanceSelector), &found))
		if found {
			_ = run(5*time.Second, chromedp.Click(defaultPlayAffordanceSelector, chromedp.ByQuery))
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	// Proceed best-effort: some players auto-start on row click.
	return nil
}

// mediaReadyJS mirrors spec §4.1 Step D's readiness predicate.
const mediaReadyJS = `(function(){
  var v = document.querySelector('video');
  if (!v) return false;
  if (v.readyState === 4) return true;
  return v.readyState >= 3 && v.currentTime > 0 && !v.paused;
})()`

func stepD_waitMediaReady(run func(time.Duration, ...chromedp.Action) error) error {
	deadline := time.Now().Add(15 * time.Second)
	triedUnmute := false
	for time.Now().Before(deadline) {
		var ready bool
		_ = run(2*time.Second, chromedp.Evaluate(mediaReadyJS, &ready))
		if ready {
			return nil
		}
		if !triedUnmute {
			var readyButPaused bool
			_ = run(2*time.Second, chromedp.Evaluate(
				`(function(){var v=document.querySelector('video');return !!v && v.readyState>=3 && v.paused;})()`,
				&readyButPaused))
			if readyButPaused {
				_ = run(2*time.Second, chromedp.Evaluate(
					`(function(){var v=document.querySelector('video');if(v){v.muted=false;v.play();}})()`, nil))
				triedUnmute = true
			}
		}
		time.Sleep(300 * time.Millisecond)
	}
	return fmt.Errorf("media not ready within timeout")
}

const normalizeViewportJS = `(function(){
  var v = document.querySelector('video');
  if (v && v.requestFullscreen) { try { v.requestFullscreen(); } catch (e) {} }
  var style = document.getElementById('iptvgw-viewport-style');
  if (!style) {
    style = document.createElement('style');
    style.id = 'iptvgw-viewport-style';
    document.head.appendChild(style);
  }
  style.textContent = 'video{position:fixed!important;top:0!important;left:0!important;' +
    'width:100vw!important;height:100vh!important;z-index:2147483647!important;}' +
    'header,nav,.chrome,.controls{display:none!important;}';
  if (v) { v.muted = false; }
})()`

func stepE_normalizeViewport(run func(time.Duration, ...chromedp.Action) error) error {
	return run(5*time.Second, chromedp.Evaluate(normalizeViewportJS, nil))
}
