package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.log")
	j, err := NewJournal(path, nil)
	require.NoError(t, err)
	defer j.Close()

	j.Record(TradeRecord{
		Symbol:     "005930",
		EntryTime:  time.Date(2026, 8, 24, 9, 20, 0, 0, time.UTC),
		EntryPrice: decimal.NewFromInt(10000),
		ExitValue:  decimal.NewFromInt(40 * 10200),
		ExitQty:    40,
		ExitSignal: ExitPartialTP,
		ExitTime:   time.Date(2026, 8, 24, 9, 40, 0, 0, time.UTC),
		PnL:        decimal.NewFromInt(8000),
	})
	j.Record(TradeRecord{
		Symbol:     "005930",
		ExitQty:    59,
		ExitSignal: ExitTakeProfit,
		PnL:        decimal.NewFromInt(-1000),
	})

	pnl, count := j.RealizedPnL()
	assert.Equal(t, 2, count)
	assert.True(t, pnl.Equal(decimal.NewFromInt(7000)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec TradeRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		require.NotEmpty(t, rec.ID, "record IDs are assigned on write")
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestJournalWithoutFileStillCounts(t *testing.T) {
	j, err := NewJournal("", nil)
	require.NoError(t, err)

	j.Record(TradeRecord{Symbol: "005930", PnL: decimal.NewFromInt(100)})
	pnl, count := j.RealizedPnL()
	assert.Equal(t, 1, count)
	assert.True(t, pnl.Equal(decimal.NewFromInt(100)))
}
