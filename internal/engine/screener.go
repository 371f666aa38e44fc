package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/metrics"
)

// CandidateSet is the current set of entry-eligible symbols. Replaced
// wholesale by each screening run; losing candidacy never touches open
// positions.
type CandidateSet struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

func NewCandidateSet() *CandidateSet {
	return &CandidateSet{symbols: make(map[string]struct{})}
}

func (c *CandidateSet) Contains(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.symbols[symbol]
	return ok
}

// Replace swaps in a new candidate list.
func (c *CandidateSet) Replace(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}
	c.mu.Lock()
	c.symbols = next
	c.mu.Unlock()
}

// List returns the candidates, sorted.
func (c *CandidateSet) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// rankingFetcher is the slice of the broker client the screener needs.
type rankingFetcher interface {
	VolumeSurgeRanking(ctx context.Context, f broker.RankingFilters) ([]broker.RankedStock, error)
}

// Screener refreshes the candidate set from the broker's volume-surge
// ranking. Ranking rows are filtered locally by price and surge floor,
// then the top targets by surge rate win. The output is deterministic
// for a given ranking response.
type Screener struct {
	client rankingFetcher
	cfg    config.ScreenerConfig
}

func NewScreener(client rankingFetcher, cfg config.ScreenerConfig) *Screener {
	return &Screener{client: client, cfg: cfg}
}

// Scan runs one screening pass and returns the new candidate list. A
// broker failure returns an error and leaves the previous candidates
// in effect (the caller keeps the old set).
func (s *Screener) Scan(ctx context.Context) ([]string, error) {
	ranked, err := s.client.VolumeSurgeRanking(ctx, broker.RankingFilters{
		Market:    s.cfg.Market,
		MinVolume: s.cfg.MinVolume,
	})
	if err != nil {
		return nil, err
	}
	metrics.ScreeningRuns.Inc()

	filtered := make([]broker.RankedStock, 0, len(ranked))
	for _, r := range ranked {
		if r.Price < s.cfg.MinPrice {
			continue
		}
		if r.SurgeRate < s.cfg.MinSurgePct {
			continue
		}
		filtered = append(filtered, r)
	}

	// Highest surge first; symbol breaks ties so equal inputs always
	// produce the same list.
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].SurgeRate != filtered[j].SurgeRate {
			return filtered[i].SurgeRate > filtered[j].SurgeRate
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})

	if len(filtered) > s.cfg.MaxTargets {
		filtered = filtered[:s.cfg.MaxTargets]
	}

	symbols := make([]string, 0, len(filtered))
	for _, r := range filtered {
		symbols = append(symbols, r.Symbol)
	}

	log.Info().
		Int("ranked", len(ranked)).
		Int("candidates", len(symbols)).
		Strs("symbols", symbols).
		Msg("🔍 Screening pass complete")
	metrics.Candidates.Set(float64(len(symbols)))

	return symbols, nil
}
