package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/market"
	"github.com/quantbelt/orbgate/internal/notify"
)

// Shared fakes for the engine package tests.

type orderCall struct {
	Side   string
	Symbol string
	Qty    int64
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []orderCall
	buyErr  error
	sellErr error
	nextID  int

	cash    decimal.Decimal
	cashErr error

	// When set, SellMarket signals sellStarted and then blocks until
	// sellGate is closed, simulating a slow order RPC.
	sellGate    chan struct{}
	sellStarted chan struct{}
}

func (g *fakeGateway) BuyMarket(ctx context.Context, symbol string, qty int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buyErr != nil {
		return "", g.buyErr
	}
	g.calls = append(g.calls, orderCall{Side: "BUY", Symbol: symbol, Qty: qty})
	g.nextID++
	return fmt.Sprintf("ORD%03d", g.nextID), nil
}

func (g *fakeGateway) SellMarket(ctx context.Context, symbol string, qty int64) (string, error) {
	g.mu.Lock()
	gate, started := g.sellGate, g.sellStarted
	g.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sellErr != nil {
		return "", g.sellErr
	}
	g.calls = append(g.calls, orderCall{Side: "SELL", Symbol: symbol, Qty: qty})
	g.nextID++
	return fmt.Sprintf("ORD%03d", g.nextID), nil
}

func (g *fakeGateway) Cancel(ctx context.Context, orderID, symbol string, qty int64) error {
	return nil
}

func (g *fakeGateway) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	if g.cashErr != nil {
		return decimal.Zero, g.cashErr
	}
	return g.cash, nil
}

func (g *fakeGateway) orders() []orderCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]orderCall, len(g.calls))
	copy(out, g.calls)
	return out
}

type subscriptionCall struct {
	Op      string
	Types   []string
	Symbols []string
}

type fakeStream struct {
	mu    sync.Mutex
	calls []subscriptionCall
	err   error

	events     chan broker.Event
	regAcks    chan broker.RegAck
	reconnects chan struct{}
	connected  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events:     make(chan broker.Event, 100),
		regAcks:    make(chan broker.RegAck, 10),
		reconnects: make(chan struct{}, 1),
		connected:  true,
	}
}

func (s *fakeStream) Start()            {}
func (s *fakeStream) Stop()             { s.connected = false }
func (s *fakeStream) IsConnected() bool { return s.connected }

func (s *fakeStream) Events() <-chan broker.Event   { return s.events }
func (s *fakeStream) RegAcks() <-chan broker.RegAck { return s.regAcks }
func (s *fakeStream) Reconnects() <-chan struct{}   { return s.reconnects }

func (s *fakeStream) Register(types, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, subscriptionCall{Op: "REG", Types: types, Symbols: symbols})
	return nil
}

func (s *fakeStream) Unregister(types, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, subscriptionCall{Op: "REMOVE", Types: types, Symbols: symbols})
	return nil
}

func (s *fakeStream) subscriptionCalls() []subscriptionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscriptionCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type fakeCharts struct {
	bars map[string][]market.Bar
	err  error
}

func (c *fakeCharts) MinuteChart(ctx context.Context, symbol string) ([]market.Bar, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.bars[symbol], nil
}

type fakeRanking struct {
	stocks []broker.RankedStock
	err    error
}

func (r *fakeRanking) VolumeSurgeRanking(ctx context.Context, f broker.RankingFilters) ([]broker.RankedStock, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.stocks, nil
}

// testStrategy is a strategy record with small warm-up requirements so
// scenarios fit in a handful of bars.
func testStrategy() config.StrategyConfig {
	s := config.Default().Strategy
	s.EMAShort = 2
	s.EMALong = 3
	s.RVOLWindow = 2
	s.CheckAvailableCash = false
	return s
}

func silentNotifier() *notify.Notifier {
	return notify.New(config.TelegramConfig{})
}

var testDay = time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

func minuteOf(h, m int) time.Time {
	return time.Date(2026, 8, 24, h, m, 0, 0, time.UTC)
}

func testSessionOpen(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, time.UTC)
}
