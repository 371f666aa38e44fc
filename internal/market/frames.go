package market

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FRAME STORE - Per-symbol ring of completed 1-minute bars
// ═══════════════════════════════════════════════════════════════════════════════
//
// One ordered bar sequence per symbol. A late bar carrying an existing
// minute overwrites in place; everything else appends. Feeds the
// indicator kit.
//
// ═══════════════════════════════════════════════════════════════════════════════

// maxFrameBars bounds the per-symbol ring; one trading session of
// 1-minute bars fits comfortably.
const maxFrameBars = 500

type FrameStore struct {
	mu     sync.RWMutex
	frames map[string][]Bar
}

func NewFrameStore() *FrameStore {
	return &FrameStore{frames: make(map[string][]Bar)}
}

// AppendOrReplace inserts a completed bar. Equal minute overwrites; a
// newer minute appends; a stale minute older than the newest bar that
// matches nothing is dropped.
func (s *FrameStore) AppendOrReplace(symbol string, bar Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bars := s.frames[symbol]
	n := len(bars)

	if n == 0 || bar.Minute.After(bars[n-1].Minute) {
		bars = append(bars, bar)
		if len(bars) > maxFrameBars {
			bars = bars[len(bars)-maxFrameBars:]
		}
		s.frames[symbol] = bars
		return
	}

	for i := n - 1; i >= 0; i-- {
		if bars[i].Minute.Equal(bar.Minute) {
			bars[i] = bar
			return
		}
		if bars[i].Minute.Before(bar.Minute) {
			break
		}
	}

	log.Debug().
		Str("symbol", symbol).
		Time("minute", bar.Minute).
		Msg("Stale bar dropped")
}

// SeedHistory loads a batch of historical bars. Rows may arrive in any
// order (the chart RPC returns most recent first); they are sorted
// ascending and merged through AppendOrReplace, so seeding is
// idempotent and safe to interleave with live bars.
func (s *FrameStore) SeedHistory(symbol string, bars []Bar) {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Minute.Before(sorted[j].Minute)
	})
	for _, b := range sorted {
		s.AppendOrReplace(symbol, b)
	}
}

// Bars returns a copy of the symbol's bar sequence.
func (s *FrameStore) Bars(symbol string) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.frames[symbol]
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out
}

// Len returns the number of stored bars for a symbol.
func (s *FrameStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames[symbol])
}

// Drop removes a symbol's frame entirely (unsubscribe teardown).
func (s *FrameStore) Drop(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frames, symbol)
}
