package market

import (
	"sync"
	"time"
)

// BookTop is the latest order-book snapshot for a symbol: aggregate
// resting volume on each side plus the optional best levels.
type BookTop struct {
	TotalBid     int64
	TotalAsk     int64
	BestBidPrice float64
	BestAskPrice float64
	BestBidVol   int64
	BestAskVol   int64
	UpdatedAt    time.Time
}

// BookCache holds the most recent BookTop per symbol. The order-book
// feed overwrites in place; the strategy reads the snapshot to compute
// imbalance.
type BookCache struct {
	mu    sync.RWMutex
	books map[string]BookTop
}

func NewBookCache() *BookCache {
	return &BookCache{books: make(map[string]BookTop)}
}

func (c *BookCache) Update(symbol string, top BookTop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = top
}

// Top returns the latest snapshot; ok=false when no book update has
// been seen for the symbol yet.
func (c *BookCache) Top(symbol string) (BookTop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	top, ok := c.books[symbol]
	return top, ok
}

// Drop removes a symbol's book state (unsubscribe teardown).
func (c *BookCache) Drop(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.books, symbol)
}
