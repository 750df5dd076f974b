// Package cache stores settle responses so repeated requests with a max_age
// can skip loading the page.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/use-agent/quietpage/models"
)

// Store is a response cache. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the response stored under key if it is younger than
	// maxAge. maxAge <= 0 never hits.
	Get(ctx context.Context, key string, maxAge time.Duration) (*models.SettleResponse, bool)

	// Set stores resp under key.
	Set(ctx context.Context, key string, resp *models.SettleResponse)
}

// Key derives a cache key from everything that shapes the response: the
// URL, the quiescence parameters and the extraction options.
func Key(req *models.SettleRequest) string {
	h := sha256.New()
	// Encoding a struct of plain fields cannot fail.
	_ = json.NewEncoder(h).Encode(struct {
		URL       string
		Idle      int
		Timeout   int
		Scroll    *bool
		Selector  string
		Records   *models.RecordSpec
		Format    string
		Mode      string
		Headers   map[string]string
		Cookies   []models.Cookie
		BlockAds  bool
		SettleDly *int
	}{
		req.URL, req.IdleMs, req.TimeoutMs, req.ScrollToBottom, req.CSSSelector,
		req.Records, req.OutputFormat, req.ExtractMode, req.Headers, req.Cookies,
		req.BlockAds, req.SettleDelayMs,
	})
	return hex.EncodeToString(h.Sum(nil))
}

// entry holds a cached response with its creation timestamp.
type entry struct {
	response  *models.SettleResponse
	createdAt time.Time
}

// Cache is a simple in-memory Store.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a Cache holding at most maxEntries responses. A background
// goroutine evicts entries older than ttl every 5 minutes until Close.
func New(maxEntries int, ttl time.Duration) *Cache {
	return newWithClock(maxEntries, ttl, clockwork.NewRealClock())
}

func newWithClock(maxEntries int, ttl time.Duration, clock clockwork.Clock) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
		done:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get implements Store. The returned response is a copy.
func (c *Cache) Get(_ context.Context, key string, maxAge time.Duration) (*models.SettleResponse, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.clock.Since(e.createdAt) > maxAge {
		return nil, false
	}

	resp := *e.response
	return &resp, true
}

// Set implements Store. If the cache is at capacity, a random entry is
// evicted to make room.
func (c *Cache) Set(_ context.Context, key string, resp *models.SettleResponse) {
	stored := *resp

	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		response:  &stored,
		createdAt: c.clock.Now(),
	}
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop() {
	ticker := c.clock.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
			c.evictExpired()
		}
	}
}

func (c *Cache) evictExpired() {
	if c.ttl <= 0 {
		return
	}
	cutoff := c.clock.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
