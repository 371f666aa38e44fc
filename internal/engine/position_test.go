package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerUpdateCreatesAndDrops(t *testing.T) {
	l := NewLedger()

	_, held := l.Get("005930")
	assert.False(t, held)

	l.Update("005930", func(pos *Position) *Position {
		require.Nil(t, pos)
		return &Position{Symbol: "005930", State: StatePendingEntry}
	})

	pos, held := l.Get("005930")
	require.True(t, held)
	assert.Equal(t, StatePendingEntry, pos.State)

	l.Update("005930", func(pos *Position) *Position { return nil })
	_, held = l.Get("005930")
	assert.False(t, held)
}

func TestLedgerGetReturnsCopy(t *testing.T) {
	l := NewLedger()
	l.Update("005930", func(*Position) *Position {
		return &Position{Symbol: "005930", State: StateInPosition, Size: 10}
	})

	pos, _ := l.Get("005930")
	pos.Size = 999

	fresh, _ := l.Get("005930")
	assert.Equal(t, int64(10), fresh.Size)
}

func TestLedgerSnapshotSorted(t *testing.T) {
	l := NewLedger()
	for _, sym := range []string{"000660", "005930", "000100"} {
		sym := sym
		l.Update(sym, func(*Position) *Position {
			return &Position{Symbol: sym, State: StateInPosition}
		})
	}

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "000100", snap[0].Symbol)
	assert.Equal(t, "000660", snap[1].Symbol)
	assert.Equal(t, "005930", snap[2].Symbol)
}

func TestLedgerCountInPosition(t *testing.T) {
	l := NewLedger()
	l.Update("a", func(*Position) *Position { return &Position{Symbol: "a", State: StateInPosition} })
	l.Update("b", func(*Position) *Position { return &Position{Symbol: "b", State: StatePendingEntry} })
	l.Update("c", func(*Position) *Position { return &Position{Symbol: "c", State: StateInPosition} })

	assert.Equal(t, 2, l.CountInPosition())
}

func TestLedgerOpenSymbols(t *testing.T) {
	l := NewLedger()
	states := map[string]State{
		"a": StatePendingEntry,
		"b": StateInPosition,
		"c": StatePendingExit,
		"d": StateErrorExitOrder,
	}
	for sym, st := range states {
		sym, st := sym, st
		l.Update(sym, func(*Position) *Position { return &Position{Symbol: sym, State: st} })
	}

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, l.OpenSymbols())
}

func TestExitSignalIsFullExit(t *testing.T) {
	assert.True(t, ExitTakeProfit.IsFullExit())
	assert.True(t, ExitKillSwitch.IsFullExit())
	assert.False(t, ExitPartialTP.IsFullExit())
	assert.False(t, ExitNone.IsFullExit())
}

func TestPositionRiskLockedIndependentOfConfig(t *testing.T) {
	l := NewLedger()
	l.Update("005930", func(*Position) *Position {
		return &Position{
			Symbol:     "005930",
			State:      StateInPosition,
			Size:       10,
			EntryPrice: decimal.NewFromInt(10000),
			Risk:       RiskParams{TargetProfitPct: 2.5, StopLossPct: -1.0},
		}
	})

	pos, _ := l.Get("005930")
	assert.Equal(t, 2.5, pos.Risk.TargetProfitPct)
	assert.Equal(t, -1.0, pos.Risk.StopLossPct)
}
