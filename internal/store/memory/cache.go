package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// QuoteCache is a process-local quote cache with per-entry expiry.
type QuoteCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	quotes map[string]domain.MarketQuote
}

// NewQuoteCache creates a quote cache. Entries older than ttl are treated
// as misses; ttl <= 0 disables expiry.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	return &QuoteCache{ttl: ttl, quotes: make(map[string]domain.MarketQuote)}
}

func (c *QuoteCache) Set(_ context.Context, q domain.MarketQuote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[q.MarketID] = q
	return nil
}

func (c *QuoteCache) Get(_ context.Context, marketID string) (domain.MarketQuote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[marketID]
	if !ok {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	if c.ttl > 0 && time.Since(q.FetchedAt) > c.ttl {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	return q, nil
}

// LockManager is a process-local lock manager for single-instance runs.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]time.Time)}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.locks[key]; ok && time.Now().Before(expiry) {
		return nil, domain.ErrLockHeld
	}
	m.locks[key] = time.Now().Add(ttl)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locks, key)
	}, nil
}
