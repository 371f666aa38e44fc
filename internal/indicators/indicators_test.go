package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbelt/orbgate/internal/market"
)

var sessionOpen = time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

func bar(minuteOffset int, high, low, close float64, volume int64) market.Bar {
	return market.Bar{
		Minute: sessionOpen.Add(time.Duration(minuteOffset) * time.Minute),
		Open:   close,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: volume,
	}
}

func closes(vals ...float64) []market.Bar {
	bars := make([]market.Bar, len(vals))
	for i, v := range vals {
		bars[i] = bar(i, v, v, v, 100)
	}
	return bars
}

func TestORBWindow(t *testing.T) {
	bars := []market.Bar{
		bar(-1, 999, 1, 100, 100), // pre-open, excluded
		bar(0, 105, 95, 100, 100),
		bar(1, 110, 98, 108, 100),
		bar(14, 107, 90, 95, 100),
		bar(15, 200, 50, 120, 100), // past the range, excluded
	}

	orh, orl, ok := ORB(bars, sessionOpen, 15)
	require.True(t, ok)
	assert.Equal(t, 110.0, orh)
	assert.Equal(t, 90.0, orl)
}

func TestORBUndefinedWithoutRangeBars(t *testing.T) {
	bars := []market.Bar{bar(20, 105, 95, 100, 100)}
	_, _, ok := ORB(bars, sessionOpen, 15)
	assert.False(t, ok)

	_, _, ok = ORB(nil, sessionOpen, 15)
	assert.False(t, ok)
}

func TestVWAP(t *testing.T) {
	bars := []market.Bar{
		bar(0, 102, 98, 100, 100), // typical 100
		bar(1, 112, 108, 110, 300), // typical 110
	}

	v, ok := VWAP(bars)
	require.True(t, ok)
	assert.InDelta(t, (100.0*100+110.0*300)/400, v, 1e-9)
}

func TestVWAPUndefinedWithZeroVolume(t *testing.T) {
	bars := []market.Bar{bar(0, 102, 98, 100, 0)}
	_, ok := VWAP(bars)
	assert.False(t, ok)
}

func TestEMAWarmup(t *testing.T) {
	_, ok := EMA(closes(1, 2), 3)
	assert.False(t, ok)

	// Exactly period bars: EMA equals the SMA seed.
	v, ok := EMA(closes(1, 2, 3), 3)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestEMAFollowsPrice(t *testing.T) {
	// seed = 2, k = 0.5: next = (10-2)*0.5 + 2 = 6
	v, ok := EMA(closes(1, 2, 3, 10), 3)
	require.True(t, ok)
	assert.InDelta(t, 6.0, v, 1e-9)
}

func TestRVOL(t *testing.T) {
	bars := []market.Bar{
		bar(0, 100, 100, 100, 100),
		bar(1, 100, 100, 100, 200),
		bar(2, 100, 100, 100, 450), // mean of prior two is 150
	}

	v, ok := RVOL(bars, 2)
	require.True(t, ok)
	assert.InDelta(t, 300.0, v, 1e-9)
}

func TestRVOLUndefinedWithShortHistory(t *testing.T) {
	_, ok := RVOL(closes(1, 2), 2)
	assert.False(t, ok)
}

func TestRVOLUndefinedWithZeroMean(t *testing.T) {
	bars := []market.Bar{
		bar(0, 100, 100, 100, 0),
		bar(1, 100, 100, 100, 0),
		bar(2, 100, 100, 100, 450),
	}
	_, ok := RVOL(bars, 2)
	assert.False(t, ok)
}

func TestOBI(t *testing.T) {
	v, ok := OBI(300, 200)
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)

	// Empty ask side with bids reads as extreme buy imbalance.
	v, ok = OBI(300, 0)
	require.True(t, ok)
	assert.Equal(t, ExtremeImbalance, v)

	// Empty book is unknown, not zero.
	_, ok = OBI(0, 0)
	assert.False(t, ok)
}

func TestStrength(t *testing.T) {
	v, ok := Strength(150, 100)
	require.True(t, ok)
	assert.InDelta(t, 150.0, v, 1e-9)

	v, ok = Strength(100, 0)
	require.True(t, ok)
	assert.Equal(t, ExtremeImbalance, v)

	_, ok = Strength(0, 0)
	assert.False(t, ok)
}
