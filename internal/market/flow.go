package market

import (
	"sync"
	"time"
)

// flowWindowSpan is how long buy/sell volume accumulates before the
// counters reset.
const flowWindowSpan = 60 * time.Second

type flowWindow struct {
	buy   int64
	sell  int64
	start time.Time
}

// FlowCounters accumulates signed trade volume per symbol. Positive
// volume is buyer-initiated, negative seller-initiated. The window
// resets whenever a tick arrives more than 60s after window start,
// keyed by event time. Feeds the strength indicator.
type FlowCounters struct {
	mu      sync.Mutex
	windows map[string]*flowWindow
}

func NewFlowCounters() *FlowCounters {
	return &FlowCounters{windows: make(map[string]*flowWindow)}
}

// Add records one tick's signed volume at event time ts.
func (f *FlowCounters) Add(symbol string, signedVolume int64, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[symbol]
	if !ok || ts.Sub(w.start) > flowWindowSpan {
		w = &flowWindow{start: ts}
		f.windows[symbol] = w
	}

	if signedVolume >= 0 {
		w.buy += signedVolume
	} else {
		w.sell += -signedVolume
	}
}

// Totals returns the accumulated buy and sell volume for the symbol's
// current window.
func (f *FlowCounters) Totals(symbol string) (buy, sell int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.windows[symbol]
	if !ok {
		return 0, 0
	}
	return w.buy, w.sell
}

// Drop removes a symbol's counters (unsubscribe teardown).
func (f *FlowCounters) Drop(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, symbol)
}
