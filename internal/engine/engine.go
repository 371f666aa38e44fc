package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/market"
	"github.com/quantbelt/orbgate/internal/metrics"
	"github.com/quantbelt/orbgate/internal/notify"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Lifecycle, event pump, screening loop, kill switch
// ═══════════════════════════════════════════════════════════════════════════════
//
// Single consumer of the realtime stream. Every event is dispatched in
// receipt order: trades fold into candles, execution and balance
// reports go to the reconciler. Completed bars are handed to a
// per-symbol worker so a rate-limited order RPC for one symbol never
// stalls tick aggregation or reconciliation for the rest; the ledger's
// per-symbol lock keeps each worker serialized against the reconciler.
// The screening loop runs on its own ticker and only touches the
// candidate set and subscriptions.
//
// ═══════════════════════════════════════════════════════════════════════════════

// EngineState is the engine lifecycle state.
type EngineState string

const (
	EngineStarting   EngineState = "STARTING"
	EngineRunning    EngineState = "RUNNING"
	EngineStopping   EngineState = "STOPPING"
	EngineStopped    EngineState = "STOPPED"
	EngineError      EngineState = "ERROR"
	EngineKillSwitch EngineState = "KILL_SWITCH_ACTIVATED"
)

// eventSource is the slice of the realtime stream the engine consumes.
type eventSource interface {
	Start()
	Stop()
	IsConnected() bool
	Events() <-chan broker.Event
	RegAcks() <-chan broker.RegAck
	Reconnects() <-chan struct{}
}

const (
	regAckTimeout = 10 * time.Second

	// Bars arrive once a minute per symbol; a worker only backs up when
	// order RPCs stall far longer than that.
	barBacklog = 16
)

type Engine struct {
	mu      sync.RWMutex
	state   EngineState
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cfg      *config.Config
	strategy *config.StrategyStore

	stream     eventSource
	gateway    Gateway
	ledger     *Ledger
	frames     *market.FrameStore
	aggregator *market.Aggregator
	flow       *market.FlowCounters
	halts      *market.HaltTracker
	books      *market.BookCache
	candidates *CandidateSet

	evaluator  *Evaluator
	reconciler *Reconciler
	screener   *Screener
	subs       *SubscriptionManager
	journal    *Journal
	notifier   *notify.Notifier

	workerMu sync.Mutex
	workers  map[string]chan market.Bar

	loc       *time.Location
	startedAt time.Time
	connects  int
}

// Deps bundles the engine's collaborators; main wires them once.
type Deps struct {
	Config   *config.Config
	Strategy *config.StrategyStore
	Stream   eventSource
	Gateway  Gateway

	Ledger     *Ledger
	Frames     *market.FrameStore
	Aggregator *market.Aggregator
	Flow       *market.FlowCounters
	Halts      *market.HaltTracker
	Books      *market.BookCache
	Candidates *CandidateSet

	Evaluator  *Evaluator
	Reconciler *Reconciler
	Screener   *Screener
	Subs       *SubscriptionManager
	Journal    *Journal
	Notifier   *notify.Notifier
}

func New(d Deps) *Engine {
	e := &Engine{
		state:      EngineStopped,
		stopCh:     make(chan struct{}),
		cfg:        d.Config,
		strategy:   d.Strategy,
		stream:     d.Stream,
		gateway:    d.Gateway,
		ledger:     d.Ledger,
		frames:     d.Frames,
		aggregator: d.Aggregator,
		flow:       d.Flow,
		halts:      d.Halts,
		books:      d.Books,
		candidates: d.Candidates,
		evaluator:  d.Evaluator,
		reconciler: d.Reconciler,
		screener:   d.Screener,
		subs:       d.Subs,
		journal:    d.Journal,
		notifier:   d.Notifier,
		workers:    make(map[string]chan market.Bar),
		loc:        d.Config.Location(),
	}
	// Balance-driven adoptions and closures change the required
	// subscription set.
	e.reconciler.SetExposureCallback(e.refreshSubscriptionsAsync)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s EngineState) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		log.Info().Str("from", string(prev)).Str("to", string(s)).Msg("⚙️ Engine state")
		e.notifier.EngineState(string(s))
	}
}

// Start brings the stream up and launches the event and screening
// loops. Returns once the loops are running; readiness for trading is
// gated on the first account-feed registration ack.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.startedAt = time.Now()
	e.mu.Unlock()

	// Workers from a previous run have exited on the old stop channel.
	e.workerMu.Lock()
	e.workers = make(map[string]chan market.Bar)
	e.workerMu.Unlock()

	e.setState(EngineStarting)
	e.stream.Start()

	e.wg.Add(2)
	go e.eventLoop()
	go e.screeningLoop()

	log.Info().Msg("🚀 Engine started")
}

// Stop drains and shuts down: unsubscribe, flush partial candles, close
// the stream. Open positions stay open; they are re-adopted from
// balance updates on the next start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.setState(EngineStopping)
	e.wg.Wait()

	e.subs.UnsubscribeAll()
	e.stream.Stop()

	// Partial candles at shutdown are flushed so the last minute of
	// data is not silently lost.
	for _, cb := range e.aggregator.FlushAll() {
		e.frames.AppendOrReplace(cb.Symbol, cb.Bar)
	}

	e.setState(EngineStopped)
	log.Info().Msg("👋 Engine stopped")
}

// eventLoop is the single consumer of the realtime stream.
func (e *Engine) eventLoop() {
	defer e.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-e.stopCh:
			return

		case <-e.stream.Reconnects():
			e.onConnect(ctx)

		case ev := <-e.stream.Events():
			e.dispatch(ctx, ev)
		}
	}
}

// onConnect runs after every successful connect+login. Registration is
// acked before the engine trusts the account feeds.
func (e *Engine) onConnect(ctx context.Context) {
	e.mu.Lock()
	e.connects++
	first := e.connects == 1
	e.mu.Unlock()

	if first {
		if err := e.subs.RegisterAccountFeeds(); err != nil {
			log.Error().Err(err).Msg("❌ Account feed registration failed")
			e.setState(EngineError)
			return
		}
	} else {
		metrics.StreamReconnects.Inc()
		e.subs.Resubscribe()
		log.Info().Msg("🔄 Stream reconnected, subscriptions restored")
	}

	select {
	case ack := <-e.stream.RegAcks():
		if !ack.OK {
			log.Error().Str("msg", ack.Message).Msg("❌ Feed registration rejected")
			e.setState(EngineError)
			return
		}
	case <-time.After(regAckTimeout):
		log.Warn().Msg("⚠️ No registration ack, proceeding anyway")
	case <-e.stopCh:
		return
	}

	if e.State() == EngineStarting {
		e.setState(EngineRunning)
		// Seed the watchlist immediately rather than waiting a full
		// screener interval.
		e.runScreeningPass(ctx)
	}
}

// dispatch routes one stream event.
func (e *Engine) dispatch(ctx context.Context, ev broker.Event) {
	switch {
	case ev.Trade != nil:
		e.onTrade(ctx, *ev.Trade)

	case ev.Book != nil:
		e.books.Update(ev.Book.Symbol, ev.Book.Top)

	case ev.Halt != nil:
		e.halts.Set(ev.Halt.Symbol, ev.Halt.Active)
		if ev.Halt.Active {
			log.Warn().Str("symbol", ev.Halt.Symbol).Str("type", ev.Halt.HaltType).Msg("⛔ Volatility halt")
		} else {
			log.Info().Str("symbol", ev.Halt.Symbol).Msg("▶️ Halt released")
		}

	case ev.Order != nil:
		e.reconciler.HandleOrderUpdate(*ev.Order)

	case ev.Balance != nil:
		e.reconciler.HandleBalanceUpdate(*ev.Balance)
	}
}

// onTrade folds a tick into the symbol's candle and hands a completed
// bar to the symbol's worker.
func (e *Engine) onTrade(ctx context.Context, t broker.TradeEvent) {
	metrics.TicksProcessed.Inc()

	vol := t.Volume
	if vol < 0 {
		vol = -vol
	}

	completed, accepted := e.aggregator.Ingest(t.Symbol, t.Price, vol, t.Time)
	if !accepted {
		// Duplicate or unusable tick; the flow counters must not see it
		// either or strength double-counts what the candle discarded.
		return
	}
	e.flow.Add(t.Symbol, t.Volume, t.Time)

	if completed == nil {
		return
	}
	e.frames.AppendOrReplace(completed.Symbol, completed.Bar)
	metrics.BarsCompleted.Inc()

	if e.State() != EngineRunning && e.State() != EngineKillSwitch {
		return
	}
	e.enqueueBar(completed.Symbol, completed.Bar)
}

// enqueueBar routes a completed bar to its symbol's worker, starting
// one on first use. Evaluation runs off the event loop so an order RPC
// in flight for one symbol cannot hold up every other feed.
func (e *Engine) enqueueBar(symbol string, bar market.Bar) {
	e.mu.RLock()
	stopCh := e.stopCh
	e.mu.RUnlock()

	e.workerMu.Lock()
	ch, ok := e.workers[symbol]
	if !ok {
		ch = make(chan market.Bar, barBacklog)
		e.workers[symbol] = ch
		e.wg.Add(1)
		go e.barWorker(symbol, ch, stopCh)
	}
	e.workerMu.Unlock()

	select {
	case ch <- bar:
	default:
		log.Warn().Str("symbol", symbol).Msg("⚠️ Bar worker backlog full, bar dropped")
	}
}

func (e *Engine) barWorker(symbol string, bars <-chan market.Bar, stopCh <-chan struct{}) {
	defer e.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-stopCh:
			return
		case bar := <-bars:
			e.evaluator.OnBar(ctx, symbol, bar)
		}
	}
}

// screeningLoop refreshes the watchlist on the configured interval.
func (e *Engine) screeningLoop() {
	defer e.wg.Done()

	interval := time.Duration(e.cfg.Screener.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if e.State() != EngineRunning {
				continue
			}
			e.runScreeningPass(context.Background())
		}
	}
}

// runScreeningPass runs the screener and reconciles subscriptions. A
// screener failure keeps the previous candidate set.
func (e *Engine) runScreeningPass(ctx context.Context) {
	symbols, err := e.screener.Scan(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Screening failed, keeping previous candidates")
		return
	}
	e.candidates.Replace(symbols)
	e.refreshSubscriptions(ctx)
}

// refreshSubscriptions applies candidates ∪ open positions to the
// stream. Open positions stay subscribed even after losing candidacy.
func (e *Engine) refreshSubscriptions(ctx context.Context) {
	required := e.candidates.List()
	seen := make(map[string]struct{}, len(required))
	for _, s := range required {
		seen[s] = struct{}{}
	}
	for _, s := range e.ledger.OpenSymbols() {
		if _, ok := seen[s]; !ok {
			required = append(required, s)
		}
	}
	e.subs.Apply(ctx, required)
}

// refreshSubscriptionsAsync runs the refresh off the caller's
// goroutine; the reconciler invokes it while holding a symbol lock.
func (e *Engine) refreshSubscriptionsAsync() {
	go e.refreshSubscriptions(context.Background())
}

// ActivateKillSwitch liquidates every held position with market sells
// and blocks further entries. Orders already pending keep resolving
// through the reconciler; the engine does not wait for the fills.
func (e *Engine) ActivateKillSwitch(ctx context.Context) {
	e.setState(EngineKillSwitch)
	e.candidates.Replace(nil)

	held := func(s State) bool {
		return s == StateInPosition || s == StateErrorExitOrder || s == StateErrorLiquidation
	}

	var liquidated []string
	for _, p := range e.ledger.Snapshot() {
		if !held(p.State) {
			// PENDING_EXIT already has a sell working; PENDING_ENTRY
			// resolves to a holding that the next balance update adopts.
			continue
		}

		symbol := p.Symbol
		e.ledger.Update(symbol, func(pos *Position) *Position {
			if pos == nil || !held(pos.State) {
				return pos
			}
			orderID, err := e.gateway.SellMarket(ctx, symbol, pos.Size)
			if err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("🚨 Kill switch sell failed")
				metrics.OrderFailures.Inc()
				pos.State = StateErrorLiquidation
				return pos
			}
			metrics.OrdersPlaced.WithLabelValues("SELL").Inc()
			pos.State = StatePendingExit
			pos.PendingOrderID = orderID
			pos.ExitSignal = ExitKillSwitch
			pos.OriginalSizeBeforeExit = pos.Size
			pos.SizeToSell = pos.Size
			pos.FilledQty = 0
			pos.FilledValue = decimal.Zero
			pos.lastUnfilledValid = false
			liquidated = append(liquidated, symbol)
			return pos
		})
	}

	log.Warn().Strs("symbols", liquidated).Msg("🚨 Kill switch activated")
	e.notifier.KillSwitch(liquidated)
}

// Status is the dashboard snapshot of the engine.
type Status struct {
	State           EngineState `json:"state"`
	Connected       bool        `json:"connected"`
	StartedAt       time.Time   `json:"started_at"`
	Candidates      []string    `json:"candidates"`
	Subscribed      []string    `json:"subscribed"`
	OpenPositions   int         `json:"open_positions"`
	RealizedPnL     string      `json:"realized_pnl"`
	TradesCompleted int         `json:"trades_completed"`
}

// Status assembles a point-in-time snapshot for the dashboard.
func (e *Engine) Status() Status {
	pnl, count := e.journal.RealizedPnL()

	e.mu.RLock()
	startedAt := e.startedAt
	e.mu.RUnlock()

	return Status{
		State:           e.State(),
		Connected:       e.stream.IsConnected(),
		StartedAt:       startedAt,
		Candidates:      e.candidates.List(),
		Subscribed:      e.subs.Subscribed(),
		OpenPositions:   e.ledger.CountInPosition(),
		RealizedPnL:     pnl.StringFixed(0),
		TradesCompleted: count,
	}
}

// Positions returns copies of the live positions for the dashboard.
func (e *Engine) Positions() []Position {
	return e.ledger.Snapshot()
}

// UpdateStrategy validates and swaps the live strategy record. Open
// positions keep the risk params locked at their entry.
func (e *Engine) UpdateStrategy(next config.StrategyConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	e.strategy.Swap(next)
	log.Info().Msg("🔧 Strategy configuration updated")
	return nil
}
