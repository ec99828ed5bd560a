package epg

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/robfig/cron/v3"

	"github.com/snapetech/iptvgw/internal/browser"
	"github.com/snapetech/iptvgw/internal/cache"
	"github.com/snapetech/iptvgw/internal/metrics"
)

// Config configures the ingestor's navigation targets and timing.
type Config struct {
	PlayerBaseURL  string
	GuidePath      string
	SettlePeriod   time.Duration // time to let lazy schedule fetches complete after paging
	PageDownCount  int           // number of page-down events to coerce lazy loads
	RefreshInterval time.Duration // hours between auto-refreshes
	CacheDir       string
	CacheFileName  string // default "epg.json"
}

func (c Config) withDefaults() Config {
	if c.GuidePath == "" {
		c.GuidePath = "/guide"
	}
	if c.SettlePeriod <= 0 {
		c.SettlePeriod = 3 * time.Second
	}
	if c.PageDownCount <= 0 {
		c.PageDownCount = 20
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 6 * time.Hour
	}
	if c.CacheFileName == "" {
		c.CacheFileName = "epg.json"
	}
	return c
}

// Ingestor captures the upstream guide via a browser session and holds the
// most recent Guide in memory, persisted to local JSON.
type Ingestor struct {
	cfg Config
	b   *browser.Browser

	mu    sync.RWMutex
	guide Guide

	refreshing int32 // atomic bool guard against re-entrant refreshes

	cronSched *cron.Cron
	stopOnce  sync.Once
}

// New constructs an Ingestor. Call LoadCache then Start to begin
// auto-refreshing.
func New(cfg Config, b *browser.Browser) *Ingestor {
	return &Ingestor{cfg: cfg.withDefaults(), b: b}
}

// Guide returns the current in-memory guide snapshot.
func (ig *Ingestor) Guide() Guide {
	ig.mu.RLock()
	defer ig.mu.RUnlock()
	return ig.guide
}

func (ig *Ingestor) cachePath() string {
	return cache.JSONPath(ig.cfg.CacheDir, strings.TrimSuffix(ig.cfg.CacheFileName, ".json"))
}

// LoadCache loads a previously persisted guide from disk. A missing file
// is not an error.
func (ig *Ingestor) LoadCache() error {
	var g Guide
	if err := cache.LoadJSON(ig.cachePath(), &g); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	ig.mu.Lock()
	ig.guide = g
	ig.mu.Unlock()
	return nil
}

func (ig *Ingestor) saveCache() error {
	ig.mu.RLock()
	g := ig.guide
	ig.mu.RUnlock()
	return cache.SaveJSON(ig.cachePath(), g)
}

// CacheAge returns how long ago the cached guide was last updated. Returns
// a very large duration if the guide has never been populated.
func (ig *Ingestor) CacheAge() time.Duration {
	ig.mu.RLock()
	updatedAt := ig.guide.UpdatedAt
	ig.mu.RUnlock()
	if updatedAt == "" {
		return 365 * 24 * time.Hour
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 365 * 24 * time.Hour
	}
	return time.Since(t)
}

// Start schedules the recurring auto-refresh (spec §4.5: immediate refresh
// if the on-disk cache is already stale, then a recurring timer at
// RefreshInterval, re-read from settings on each tick rather than frozen at
// start-up).
func (ig *Ingestor) Start(ctx context.Context, currentInterval func() time.Duration) {
	if currentInterval == nil {
		currentInterval = func() time.Duration { return ig.cfg.RefreshInterval }
	}
	if ig.CacheAge() > currentInterval() {
		go func() {
			if err := ig.Refresh(ctx); err != nil {
				log.Printf("epg: initial refresh: %v", err)
			}
		}()
	}

	ig.cronSched = cron.New()
	ig.cronSched.Schedule(everySchedule{currentInterval}, cron.FuncJob(func() {
		if err := ig.Refresh(ctx); err != nil {
			log.Printf("epg: scheduled refresh: %v", err)
		}
	}))
	ig.cronSched.Start()
}

// Stop halts the auto-refresh scheduler.
func (ig *Ingestor) Stop() {
	ig.stopOnce.Do(func() {
		if ig.cronSched != nil {
			ig.cronSched.Stop()
		}
	})
}

// everySchedule implements cron.Schedule with an interval read fresh on
// every call, rather than a fixed @every spec frozen at registration time.
type everySchedule struct {
	interval func() time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval())
}

// Refresh drives one capture pass: navigates to the guide, installs
// response observers on the channel-list/schedule endpoints, pages the view
// to coerce lazy loads, waits a settle period, then closes its page.
// Re-entrant calls while a refresh is already running are rejected.
func (ig *Ingestor) Refresh(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&ig.refreshing, 0, 1) {
		return fmt.Errorf("epg: refresh already in progress")
	}
	defer atomic.StoreInt32(&ig.refreshing, 0)

	page, err := ig.b.NewPage(ctx)
	if err != nil {
		metrics.EPGRefreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("epg: open page: %w", err)
	}
	defer page.Close()

	channels, schedules, err := ig.capture(page)
	if err != nil {
		metrics.EPGRefreshesTotal.WithLabelValues("error").Inc()
		return err
	}

	ig.mu.Lock()
	ig.guide = Guide{Channels: channels, Schedules: schedules, UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
	ig.mu.Unlock()

	if err := ig.saveCache(); err != nil {
		log.Printf("epg: save cache: %v", err)
	}
	metrics.EPGRefreshesTotal.WithLabelValues("ok").Inc()
	metrics.EPGChannels.Set(float64(len(channels)))
	log.Printf("epg: refreshed %d channels, %d schedules", len(channels), len(schedules))
	return nil
}

// capture implements the navigate/observe/page/settle sequence of spec
// §4.5: it matches responses by path suffix against ".../allchannels" and
// ".../schedule" (hostname-filtered implicitly — Subscribe only observes
// traffic on this page, which only ever talks to the player's own API).
func (ig *Ingestor) capture(page *browser.Page) ([]Channel, map[string][]Program, error) {
	events, cancel := page.Subscribe(func(respURL, mimeType string) bool {
		u, err := url.Parse(respURL)
		if err != nil {
			return false
		}
		return strings.HasSuffix(u.Path, "/allchannels") || strings.HasSuffix(u.Path, "/schedule")
	})
	defer cancel()

	target := strings.TrimSuffix(ig.cfg.PlayerBaseURL, "/") + ig.cfg.GuidePath
	if err := page.Run(15*time.Second, chromedp.Navigate(target)); err != nil {
		return nil, nil, fmt.Errorf("epg: navigate to guide: %w", err)
	}

	// Best-effort: switch the UI filter to "streaming channels" if present.
	_ = page.Run(3*time.Second, chromedp.Click(
		`[aria-label*="streaming" i], [data-filter="streaming"]`, chromedp.ByQuery))

	var channels []Channel
	schedules := make(map[string][]Program)
	var collectMu sync.Mutex

	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		for ev := range events {
			ig.ingestEvent(page, ev, &channels, schedules, &collectMu)
		}
	}()

	for i := 0; i < ig.cfg.PageDownCount; i++ {
		_ = page.Run(2*time.Second, chromedp.KeyEvent(kb.PageDown))
		time.Sleep(150 * time.Millisecond)
	}

	time.Sleep(ig.cfg.SettlePeriod)
	cancel()
	<-collectDone

	collectMu.Lock()
	defer collectMu.Unlock()
	return channels, schedules, nil
}

// ingestEvent fetches the observed response's body over CDP
// (network.GetResponseBody keyed by ev.RequestID) and decodes it as either
// an allchannels or schedule payload, merging the result under lock.
func (ig *Ingestor) ingestEvent(page *browser.Page, ev browser.Event, channels *[]Channel, schedules map[string][]Program, mu *sync.Mutex) {
	path := trimQuery(ev.URL)
	isChannels := strings.HasSuffix(path, "/allchannels")
	isSchedule := strings.HasSuffix(path, "/schedule")
	if !isChannels && !isSchedule {
		return
	}

	var body []byte
	err := page.Run(5*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := network.GetResponseBody(ev.RequestID).Do(ctx)
		if err != nil {
			return err
		}
		body = data
		return nil
	}))
	if err != nil {
		log.Printf("epg: fetch response body for %s: %v", ev.URL, err)
		return
	}

	if isChannels {
		decoded, err := decodeAllChannels(body)
		if err != nil {
			log.Printf("epg: decode allchannels: %v", err)
			return
		}
		mu.Lock()
		*channels = append(*channels, decoded...)
		mu.Unlock()
		return
	}

	chanID, progs, err := decodeSchedule(body)
	if err != nil {
		log.Printf("epg: decode schedule: %v", err)
		return
	}
	mu.Lock()
	schedules[chanID] = append(schedules[chanID], progs...)
	mu.Unlock()
}

func trimQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// allChannelsPayload and schedulePayload are this module's understanding of
// the upstream guide API's JSON shapes.
type allChannelsPayload struct {
	Channels []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		Number        string `json:"number"`
		CallSign      string `json:"callSign"`
		CCID          string `json:"ccid"`
		Logo          string `json:"logo"`
		Format        string `json:"format"`
		LiveStreaming bool   `json:"liveStreamEnabled"`
	} `json:"channels"`
}

type schedulePayload struct {
	ChannelID string `json:"channelId"`
	Programs  []struct {
		Title           string   `json:"title"`
		Subtitle        string   `json:"subtitle"`
		Description     string   `json:"description"`
		StartTime       string   `json:"startTime"`
		EndTime         string   `json:"endTime"`
		Categories      []string `json:"categories"`
		Genres          []string `json:"genres"`
		Rating          string   `json:"rating"`
		SeasonNumber    int      `json:"seasonNumber"`
		EpisodeNumber   int      `json:"episodeNumber"`
		OriginalAirDate string   `json:"originalAirDate"`
	} `json:"programs"`
}

func decodeAllChannels(body []byte) ([]Channel, error) {
	var p allChannelsPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	var out []Channel
	for _, c := range p.Channels {
		if !c.LiveStreaming {
			continue
		}
		out = append(out, Channel{
			ID: c.ID, Name: c.Name, Number: c.Number,
			CallSign: c.CallSign, CCID: c.CCID, Logo: c.Logo, Format: c.Format,
		})
	}
	return out, nil
}

func decodeSchedule(body []byte) (string, []Program, error) {
	var p schedulePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", nil, err
	}
	var out []Program
	for _, prog := range p.Programs {
		out = append(out, Program{
			Title: prog.Title, Subtitle: prog.Subtitle, Description: prog.Description,
			StartTime: prog.StartTime, EndTime: prog.EndTime,
			Categories: prog.Categories, Genres: prog.Genres, Rating: prog.Rating,
			SeasonNumber: prog.SeasonNumber, EpisodeNumber: prog.EpisodeNumber,
			OriginalAirDate: prog.OriginalAirDate,
		})
	}
	return p.ChannelID, out, nil
}
