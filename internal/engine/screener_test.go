package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
)

func screenerConfig() config.ScreenerConfig {
	return config.ScreenerConfig{
		IntervalMinutes: 3,
		MaxTargets:      3,
		MinPrice:        1000,
		MinSurgePct:     100,
		Market:          "000",
	}
}

func TestScreenerFiltersAndRanks(t *testing.T) {
	ranking := &fakeRanking{stocks: []broker.RankedStock{
		{Symbol: "111111", Name: "A", Price: 5000, SurgeRate: 150},
		{Symbol: "222222", Name: "B", Price: 500, SurgeRate: 300},  // below min price
		{Symbol: "333333", Name: "C", Price: 2000, SurgeRate: 90},  // below min surge
		{Symbol: "444444", Name: "D", Price: 3000, SurgeRate: 250},
		{Symbol: "555555", Name: "E", Price: 1500, SurgeRate: 200},
		{Symbol: "666666", Name: "F", Price: 1500, SurgeRate: 120},
	}}
	s := NewScreener(ranking, screenerConfig())

	symbols, err := s.Scan(context.Background())
	require.NoError(t, err)

	// Top 3 by surge among survivors: 444444 (250), 555555 (200), 111111 (150).
	assert.Equal(t, []string{"444444", "555555", "111111"}, symbols)
}

func TestScreenerDeterministicOnTies(t *testing.T) {
	ranking := &fakeRanking{stocks: []broker.RankedStock{
		{Symbol: "222222", Name: "B", Price: 2000, SurgeRate: 150},
		{Symbol: "111111", Name: "A", Price: 2000, SurgeRate: 150},
		{Symbol: "333333", Name: "C", Price: 2000, SurgeRate: 150},
	}}
	s := NewScreener(ranking, screenerConfig())

	first, err := s.Scan(context.Background())
	require.NoError(t, err)
	second, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"111111", "222222", "333333"}, first)
}

func TestScreenerPropagatesBrokerError(t *testing.T) {
	s := NewScreener(&fakeRanking{err: errors.New("ranking down")}, screenerConfig())
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestCandidateSetReplace(t *testing.T) {
	c := NewCandidateSet()
	assert.False(t, c.Contains("005930"))

	c.Replace([]string{"005930", "000660"})
	assert.True(t, c.Contains("005930"))
	assert.Equal(t, []string{"000660", "005930"}, c.List())

	c.Replace([]string{"000660"})
	assert.False(t, c.Contains("005930"), "replaced wholesale")

	c.Replace(nil)
	assert.Empty(t, c.List())
}
