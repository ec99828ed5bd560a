// Package catalog holds the live channel list the gateway serves as a
// playlist and allocates tuners against.
package catalog

import (
	"os"
	"sync"

	"github.com/snapetech/iptvgw/internal/cache"
)

// Channel is one entry in the tuneable lineup.
type Channel struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Number      string   `json:"number"`
	Category    string   `json:"category"`
	SearchTerms []string `json:"searchTerms,omitempty"`
}

// Catalog is the process-wide set of tuneable channels. Safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	channels []Channel
	byID     map[string]Channel
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{byID: make(map[string]Channel)}
}

// Replace swaps in a new channel list wholesale.
func (c *Catalog) Replace(channels []Channel) {
	byID := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}
	c.mu.Lock()
	c.channels = channels
	c.byID = byID
	c.mu.Unlock()
}

// Snapshot returns a copy of the current channel list; callers may not
// mutate the core's state through it.
func (c *Catalog) Snapshot() []Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// ByID returns the channel with the given id, if present.
func (c *Catalog) ByID(id string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.byID[id]
	return ch, ok
}

// ByNumber returns the first channel with the given guide number, if present.
func (c *Catalog) ByNumber(number string) (Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.channels {
		if ch.Number == number {
			return ch, true
		}
	}
	return Channel{}, false
}

// persistedCatalog is the on-disk shape: { "channels": [...] }.
type persistedCatalog struct {
	Channels []Channel `json:"channels"`
}

// Save persists the catalog atomically to path as JSON.
func (c *Catalog) Save(path string) error {
	c.mu.RLock()
	snap := make([]Channel, len(c.channels))
	copy(snap, c.channels)
	c.mu.RUnlock()
	return cache.SaveJSON(path, persistedCatalog{Channels: snap})
}

// Load reads a previously-saved catalog from path. A missing file is not an
// error; the catalog remains empty.
func (c *Catalog) Load(path string) error {
	var p persistedCatalog
	if err := cache.LoadJSON(path, &p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	c.Replace(p.Channels)
	return nil
}
