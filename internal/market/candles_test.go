package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteAt(h, m, s int) time.Time {
	return time.Date(2026, 8, 24, h, m, s, 0, time.UTC)
}

func TestAggregatorBuildsBarFromTicks(t *testing.T) {
	agg := NewAggregator()

	for _, tick := range []struct {
		price  float64
		volume int64
		at     time.Time
	}{
		{100, 10, minuteAt(9, 0, 5)},
		{103, 5, minuteAt(9, 0, 20)},
		{98, 7, minuteAt(9, 0, 40)},
		{101, 3, minuteAt(9, 0, 59)},
	} {
		done, accepted := agg.Ingest("005930", tick.price, tick.volume, tick.at)
		require.Nil(t, done)
		require.True(t, accepted)
	}

	// The first tick of 09:01 freezes the 09:00 bar.
	done, accepted := agg.Ingest("005930", 102, 1, minuteAt(9, 1, 0))
	require.NotNil(t, done)
	require.True(t, accepted)

	assert.Equal(t, "005930", done.Symbol)
	assert.Equal(t, minuteAt(9, 0, 0), done.Bar.Minute)
	assert.Equal(t, 100.0, done.Bar.Open)
	assert.Equal(t, 103.0, done.Bar.High)
	assert.Equal(t, 98.0, done.Bar.Low)
	assert.Equal(t, 101.0, done.Bar.Close)
	assert.Equal(t, int64(25), done.Bar.Volume)
}

func TestAggregatorIgnoresDuplicateTick(t *testing.T) {
	agg := NewAggregator()

	ts := minuteAt(9, 0, 5)
	_, accepted := agg.Ingest("005930", 100, 10, ts)
	require.True(t, accepted)

	// The broker occasionally replays the same tick; volume must not
	// double-count, and the rejection is reported so flow counters can
	// skip it too.
	_, accepted = agg.Ingest("005930", 100, 10, ts)
	assert.False(t, accepted)

	partial, ok := agg.Partial("005930")
	require.True(t, ok)
	assert.Equal(t, int64(10), partial.Volume)
}

func TestAggregatorDropsBadTicks(t *testing.T) {
	agg := NewAggregator()

	for _, tick := range []struct {
		price  float64
		volume int64
	}{{0, 10}, {-5, 10}, {100, 0}} {
		done, accepted := agg.Ingest("005930", tick.price, tick.volume, minuteAt(9, 0, 0))
		assert.Nil(t, done)
		assert.False(t, accepted)
	}

	_, ok := agg.Partial("005930")
	assert.False(t, ok)
}

func TestAggregatorDropsOlderMinuteTick(t *testing.T) {
	agg := NewAggregator()

	agg.Ingest("005930", 100, 10, minuteAt(9, 1, 0))
	done, accepted := agg.Ingest("005930", 90, 5, minuteAt(9, 0, 30))
	assert.Nil(t, done)
	assert.False(t, accepted)

	partial, ok := agg.Partial("005930")
	require.True(t, ok)
	assert.Equal(t, minuteAt(9, 1, 0), partial.Minute)
	assert.Equal(t, int64(10), partial.Volume)
}

func TestAggregatorTracksSymbolsIndependently(t *testing.T) {
	agg := NewAggregator()

	agg.Ingest("005930", 100, 10, minuteAt(9, 0, 0))
	agg.Ingest("000660", 200, 20, minuteAt(9, 0, 0))

	done, _ := agg.Ingest("005930", 101, 1, minuteAt(9, 1, 0))
	require.NotNil(t, done)
	assert.Equal(t, "005930", done.Symbol)

	// 000660 still has its partial open.
	partial, ok := agg.Partial("000660")
	require.True(t, ok)
	assert.Equal(t, int64(20), partial.Volume)
}

func TestAggregatorFlushAll(t *testing.T) {
	agg := NewAggregator()

	agg.Ingest("005930", 100, 10, minuteAt(9, 0, 0))
	agg.Ingest("000660", 200, 20, minuteAt(9, 0, 0))

	flushed := agg.FlushAll()
	assert.Len(t, flushed, 2)

	// Flushed partials are gone.
	assert.Empty(t, agg.FlushAll())
	_, ok := agg.Partial("005930")
	assert.False(t, ok)
}

func TestAggregatorDrop(t *testing.T) {
	agg := NewAggregator()
	agg.Ingest("005930", 100, 10, minuteAt(9, 0, 0))
	agg.Drop("005930")

	_, ok := agg.Partial("005930")
	assert.False(t, ok)
}
