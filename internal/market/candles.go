package market

import (
	"sync"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CANDLE AGGREGATOR - Folds trade ticks into 1-minute bars
// ═══════════════════════════════════════════════════════════════════════════════
//
// One PartialBar per symbol at most. A tick in a later minute freezes
// the current partial and returns it as a completed bar; the completed
// bar is the sole trigger for strategy evaluation downstream.
//
// Minute boundaries come from the broker-reported event time, never
// from the local wall clock.
//
// ═══════════════════════════════════════════════════════════════════════════════

type lastTick struct {
	ts     time.Time
	price  float64
	volume int64
}

type Aggregator struct {
	mu      sync.Mutex
	partial map[string]*PartialBar
	last    map[string]lastTick
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		partial: make(map[string]*PartialBar),
		last:    make(map[string]lastTick),
	}
}

// Ingest folds one trade tick. The completed bar is non-nil when the
// tick opens a new minute and freezes the previous one. accepted is
// false when the tick was discarded: non-positive price or volume, a
// broker duplicate of the immediately preceding tick, or an out-of-order
// tick from an earlier minute. Callers that count volume elsewhere
// (flow counters) must honor accepted so a discarded tick is not
// counted twice.
func (a *Aggregator) Ingest(symbol string, price float64, volume int64, ts time.Time) (completed *CompletedBar, accepted bool) {
	if price <= 0 || volume <= 0 {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.last[symbol]; ok &&
		prev.ts.Equal(ts) && prev.price == price && prev.volume == volume {
		return nil, false
	}
	a.last[symbol] = lastTick{ts: ts, price: price, volume: volume}

	minute := ts.Truncate(time.Minute)
	cur, ok := a.partial[symbol]
	if !ok {
		a.partial[symbol] = &PartialBar{Minute: minute, Open: price, High: price, Low: price, Close: price, Volume: volume}
		return nil, true
	}

	if minute.Equal(cur.Minute) {
		if price > cur.High {
			cur.High = price
		}
		if price < cur.Low {
			cur.Low = price
		}
		cur.Close = price
		cur.Volume += volume
		return nil, true
	}

	if minute.Before(cur.Minute) {
		// Out-of-order tick from before the current minute; the broker
		// sequence already moved on, fold into the current bar's volume
		// is wrong, so drop it.
		return nil, false
	}

	done := cur.Freeze()
	a.partial[symbol] = &PartialBar{Minute: minute, Open: price, High: price, Low: price, Close: price, Volume: volume}
	return &CompletedBar{Symbol: symbol, Bar: done}, true
}

// FlushAll freezes every outstanding partial bar (engine shutdown).
func (a *Aggregator) FlushAll() []CompletedBar {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]CompletedBar, 0, len(a.partial))
	for symbol, p := range a.partial {
		out = append(out, CompletedBar{Symbol: symbol, Bar: p.Freeze()})
		delete(a.partial, symbol)
	}
	return out
}

// Partial returns a copy of the in-progress bar, if any.
func (a *Aggregator) Partial(symbol string) (PartialBar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.partial[symbol]
	if !ok {
		return PartialBar{}, false
	}
	return *p, true
}

// Drop removes a symbol's partial state (unsubscribe teardown).
func (a *Aggregator) Drop(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.partial, symbol)
	delete(a.last, symbol)
}
