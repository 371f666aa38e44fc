package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LEDGER - The in-process truth about exposure
// ═══════════════════════════════════════════════════════════════════════════════
//
// One Position per symbol at most. Every read-modify-write goes through
// Update, which holds that symbol's lock for the whole closure; the
// strategy evaluator and the reconciler are therefore mutually
// exclusive per symbol while staying fully parallel across symbols.
//
// ═══════════════════════════════════════════════════════════════════════════════

// State is the per-symbol position state machine.
type State string

const (
	StateSearching        State = "SEARCHING"
	StatePendingEntry     State = "PENDING_ENTRY"
	StateInPosition       State = "IN_POSITION"
	StatePendingExit      State = "PENDING_EXIT"
	StateClosed           State = "CLOSED"
	StateErrorExitOrder   State = "ERROR_EXIT_ORDER"
	StateErrorLiquidation State = "ERROR_LIQUIDATION"
)

// ExitSignal is the reason code for the current exit attempt.
type ExitSignal string

const (
	ExitNone       ExitSignal = ""
	ExitHaltStop   ExitSignal = "HALT_STOP"
	ExitTimeStop   ExitSignal = "TIME_STOP"
	ExitTakeProfit ExitSignal = "TAKE_PROFIT"
	ExitStopLoss   ExitSignal = "STOP_LOSS"
	ExitEMACross   ExitSignal = "EMA_CROSS_SELL"
	ExitVWAPBreak  ExitSignal = "VWAP_BREAK_SELL"
	ExitPartialTP  ExitSignal = "PARTIAL_TAKE_PROFIT"
	ExitKillSwitch ExitSignal = "KILL_SWITCH"
)

// IsFullExit reports whether the signal liquidates the whole position.
func (s ExitSignal) IsFullExit() bool {
	return s != ExitNone && s != ExitPartialTP
}

// RiskParams is the strategy subset locked into a position at entry.
// It never changes afterwards, whatever the live config does.
type RiskParams struct {
	TargetProfitPct    float64
	StopLossPct        float64
	PartialProfitPct   float64
	PartialProfitRatio float64
}

// Position is the authoritative per-symbol record.
type Position struct {
	Symbol         string
	State          State
	EntryPrice     decimal.Decimal
	Size           int64
	EntryTime      time.Time
	PendingOrderID string

	// Entry fill accumulators.
	OriginalOrderQty int64
	FilledQty        int64
	FilledValue      decimal.Decimal

	// Exit bookkeeping.
	ExitSignal             ExitSignal
	OriginalSizeBeforeExit int64
	SizeToSell             int64
	PartialProfitTaken     bool

	Risk RiskParams

	// Fill dedup: the broker sends no execution sequence, so only
	// forward progress in unfilled quantity is accepted.
	lastUnfilled      int64
	lastUnfilledValid bool
}

type ledgerEntry struct {
	mu  sync.Mutex
	pos *Position
}

// Ledger maps symbol to Position with per-symbol serialization.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*ledgerEntry)}
}

func (l *Ledger) entry(symbol string) *ledgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok {
		e = &ledgerEntry{}
		l.entries[symbol] = e
	}
	return e
}

// Update runs fn under the symbol's lock. fn receives nil when the
// symbol has no position and returns the record to keep, or nil to
// drop it. All position mutations in the engine go through here.
func (l *Ledger) Update(symbol string, fn func(pos *Position) *Position) {
	e := l.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = fn(e.pos)
}

// Get returns a copy of the symbol's position.
func (l *Ledger) Get(symbol string) (Position, bool) {
	e := l.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == nil {
		return Position{}, false
	}
	return *e.pos, true
}

// Snapshot returns copies of all live positions, sorted by symbol. The
// dashboard only ever sees these copies.
func (l *Ledger) Snapshot() []Position {
	l.mu.Lock()
	entries := make(map[string]*ledgerEntry, len(l.entries))
	for sym, e := range l.entries {
		entries[sym] = e
	}
	l.mu.Unlock()

	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.pos != nil {
			out = append(out, *e.pos)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenSymbols returns the symbols holding or working a position; these
// stay subscribed regardless of the candidate set.
func (l *Ledger) OpenSymbols() []string {
	var out []string
	for _, p := range l.Snapshot() {
		switch p.State {
		case StatePendingEntry, StateInPosition, StatePendingExit, StateErrorExitOrder:
			out = append(out, p.Symbol)
		}
	}
	return out
}

// CountInPosition counts symbols currently in IN_POSITION; the entry
// gate compares it against max_positions.
func (l *Ledger) CountInPosition() int {
	n := 0
	for _, p := range l.Snapshot() {
		if p.State == StateInPosition {
			n++
		}
	}
	return n
}
