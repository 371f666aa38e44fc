package market

import "sync"

// HaltTracker keeps the volatility-interruption flag per symbol.
// Activation events set it, release events clear it. The strategy
// treats a halted symbol as both an entry block and a forced exit.
type HaltTracker struct {
	mu     sync.RWMutex
	halted map[string]bool
}

func NewHaltTracker() *HaltTracker {
	return &HaltTracker{halted: make(map[string]bool)}
}

func (h *HaltTracker) Set(symbol string, halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if halted {
		h.halted[symbol] = true
	} else {
		delete(h.halted, symbol)
	}
}

func (h *HaltTracker) IsHalted(symbol string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.halted[symbol]
}

// Drop removes a symbol's flag (unsubscribe teardown).
func (h *HaltTracker) Drop(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.halted, symbol)
}
