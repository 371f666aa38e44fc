package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlowCountersAccumulateBySign(t *testing.T) {
	f := NewFlowCounters()
	ts := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	f.Add("005930", 100, ts)
	f.Add("005930", -40, ts.Add(10*time.Second))
	f.Add("005930", 60, ts.Add(30*time.Second))

	buy, sell := f.Totals("005930")
	assert.Equal(t, int64(160), buy)
	assert.Equal(t, int64(40), sell)
}

func TestFlowCountersResetAfterWindow(t *testing.T) {
	f := NewFlowCounters()
	ts := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	f.Add("005930", 100, ts)
	// Beyond the 60s window: counters restart from this tick.
	f.Add("005930", 30, ts.Add(61*time.Second))

	buy, sell := f.Totals("005930")
	assert.Equal(t, int64(30), buy)
	assert.Zero(t, sell)
}

func TestFlowCountersUnknownSymbol(t *testing.T) {
	f := NewFlowCounters()
	buy, sell := f.Totals("005930")
	assert.Zero(t, buy)
	assert.Zero(t, sell)
}
