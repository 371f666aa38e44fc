package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION MANAGER - Diffs the watched set against the stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// required = candidates ∪ open positions. Adds register the three
// per-symbol feeds and seed history; removes unregister and tear down
// every per-symbol cache. The two account feeds are registered once at
// startup and live until shutdown.
//
// ═══════════════════════════════════════════════════════════════════════════════

// streamControl is the slice of the realtime stream the manager needs.
type streamControl interface {
	Register(types, symbols []string) error
	Unregister(types, symbols []string) error
}

// historyFetcher seeds the frame store when a symbol is added.
type historyFetcher interface {
	MinuteChart(ctx context.Context, symbol string) ([]market.Bar, error)
}

var symbolFeeds = []string{broker.FeedTrade, broker.FeedBook, broker.FeedHalt}

type SubscriptionManager struct {
	mu         sync.Mutex
	stream     streamControl
	charts     historyFetcher
	frames     *market.FrameStore
	aggregator *market.Aggregator
	flow       *market.FlowCounters
	halts      *market.HaltTracker
	books      *market.BookCache

	subscribed map[string]struct{}
}

func NewSubscriptionManager(
	stream streamControl,
	charts historyFetcher,
	frames *market.FrameStore,
	aggregator *market.Aggregator,
	flow *market.FlowCounters,
	halts *market.HaltTracker,
	books *market.BookCache,
) *SubscriptionManager {
	return &SubscriptionManager{
		stream:     stream,
		charts:     charts,
		frames:     frames,
		aggregator: aggregator,
		flow:       flow,
		halts:      halts,
		books:      books,
		subscribed: make(map[string]struct{}),
	}
}

// RegisterAccountFeeds subscribes the order-update and balance feeds.
// Called once after connect; the engine gates readiness on its ack.
func (m *SubscriptionManager) RegisterAccountFeeds() error {
	return m.stream.Register([]string{broker.FeedOrder, broker.FeedBalance}, nil)
}

// Apply reconciles the subscription set with the required set. Failures
// on individual symbols are logged and non-fatal.
func (m *SubscriptionManager) Apply(ctx context.Context, required []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]struct{}, len(required))
	for _, s := range required {
		want[s] = struct{}{}
	}

	var add, remove []string
	for s := range want {
		if _, ok := m.subscribed[s]; !ok {
			add = append(add, s)
		}
	}
	for s := range m.subscribed {
		if _, ok := want[s]; !ok {
			remove = append(remove, s)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)

	if len(add) > 0 {
		if err := m.stream.Register(symbolFeeds, add); err != nil {
			log.Warn().Err(err).Strs("symbols", add).Msg("⚠️ Feed registration failed")
		} else {
			for _, s := range add {
				m.subscribed[s] = struct{}{}
			}
			log.Info().Strs("symbols", add).Msg("➕ Subscribed")
		}

		// One-shot history seed per new symbol.
		for _, s := range add {
			bars, err := m.charts.MinuteChart(ctx, s)
			if err != nil {
				log.Warn().Err(err).Str("symbol", s).Msg("⚠️ History seed failed")
				continue
			}
			m.frames.SeedHistory(s, bars)
			log.Debug().Str("symbol", s).Int("bars", len(bars)).Msg("History seeded")
		}
	}

	if len(remove) > 0 {
		if err := m.stream.Unregister(symbolFeeds, remove); err != nil {
			log.Warn().Err(err).Strs("symbols", remove).Msg("⚠️ Feed unregistration failed")
		}
		for _, s := range remove {
			delete(m.subscribed, s)
			m.teardown(s)
		}
		log.Info().Strs("symbols", remove).Msg("➖ Unsubscribed")
	}
}

// teardown drops every per-symbol cache after an unsubscribe.
func (m *SubscriptionManager) teardown(symbol string) {
	m.frames.Drop(symbol)
	m.aggregator.Drop(symbol)
	m.flow.Drop(symbol)
	m.halts.Drop(symbol)
	m.books.Drop(symbol)
}

// Subscribed returns the current subscription set, sorted.
func (m *SubscriptionManager) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resubscribe re-registers the account feeds and every symbol feed
// after a stream reconnect.
func (m *SubscriptionManager) Resubscribe() {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		symbols = append(symbols, s)
	}
	m.mu.Unlock()
	sort.Strings(symbols)

	if err := m.RegisterAccountFeeds(); err != nil {
		log.Warn().Err(err).Msg("⚠️ Account feed re-registration failed")
	}
	if len(symbols) > 0 {
		if err := m.stream.Register(symbolFeeds, symbols); err != nil {
			log.Warn().Err(err).Strs("symbols", symbols).Msg("⚠️ Feed re-registration failed")
		}
	}
}

// UnsubscribeAll removes every subscription (shutdown path).
func (m *SubscriptionManager) UnsubscribeAll() {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		symbols = append(symbols, s)
	}
	m.subscribed = make(map[string]struct{})
	m.mu.Unlock()

	if len(symbols) > 0 {
		sort.Strings(symbols)
		if err := m.stream.Unregister(symbolFeeds, symbols); err != nil {
			log.Warn().Err(err).Msg("Unsubscribe on shutdown failed")
		}
	}
	if err := m.stream.Unregister([]string{broker.FeedOrder, broker.FeedBalance}, nil); err != nil {
		log.Warn().Err(err).Msg("Account feed unsubscribe on shutdown failed")
	}
}
