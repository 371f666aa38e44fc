package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/indicators"
	"github.com/quantbelt/orbgate/internal/market"
	"github.com/quantbelt/orbgate/internal/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY EVALUATOR - ORB breakout entries, layered exits
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs exactly once per completed bar per symbol. Entry requires the
// breakout plus every confirmation gate; an unknown indicator always
// fails its gate. Exits run in fixed priority, first match wins.
//
// Order placement happens under the symbol's ledger lock, so a fill
// report for the same symbol cannot interleave with the decision.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Evaluator struct {
	ledger     *Ledger
	frames     *market.FrameStore
	flow       *market.FlowCounters
	halts      *market.HaltTracker
	books      *market.BookCache
	strategy   *config.StrategyStore
	gateway    Gateway
	candidates *CandidateSet

	loc         *time.Location
	sessionOpen func(day time.Time) time.Time

	now func() time.Time
}

func NewEvaluator(
	ledger *Ledger,
	frames *market.FrameStore,
	flow *market.FlowCounters,
	halts *market.HaltTracker,
	books *market.BookCache,
	strategy *config.StrategyStore,
	gateway Gateway,
	candidates *CandidateSet,
	loc *time.Location,
	sessionOpen func(day time.Time) time.Time,
) *Evaluator {
	return &Evaluator{
		ledger:      ledger,
		frames:      frames,
		flow:        flow,
		halts:       halts,
		books:       books,
		strategy:    strategy,
		gateway:     gateway,
		candidates:  candidates,
		loc:         loc,
		sessionOpen: sessionOpen,
		now:         time.Now,
	}
}

// OnBar evaluates one completed bar. The bar is already in the frame
// store when this runs.
func (e *Evaluator) OnBar(ctx context.Context, symbol string, bar market.Bar) {
	pos, held := e.ledger.Get(symbol)
	if !held {
		e.evaluateEntry(ctx, symbol, bar)
		return
	}

	switch pos.State {
	case StateInPosition, StateErrorExitOrder, StateErrorLiquidation:
		// Error states retry their exit on the next bar; a failed
		// liquidation keeps demanding an immediate sell.
		e.evaluateExit(ctx, symbol, bar)
	default:
		// Pending orders resolve through the reconciler, not here.
	}
}

// evaluateEntry applies the entry gates and places a buy when all pass.
func (e *Evaluator) evaluateEntry(ctx context.Context, symbol string, bar market.Bar) {
	if !e.candidates.Contains(symbol) {
		return
	}
	snap := e.strategy.Snapshot()
	if e.ledger.CountInPosition() >= snap.MaxPositions {
		return
	}
	if e.halts.IsHalted(symbol) {
		return
	}
	if e.afterTimeStop(bar.Minute, snap.TimeStop) {
		return
	}

	bars := e.frames.Bars(symbol)
	open := e.sessionOpen(bar.Minute)
	session := sessionBars(bars, open)

	orh, _, ok := indicators.ORB(session, open, snap.ORBMinutes)
	if !ok {
		return
	}
	if bar.Close <= orh*(1+snap.BreakoutBufferPct/100) {
		return
	}

	rvol, ok := indicators.RVOL(bars, snap.RVOLWindow)
	if !ok || rvol < snap.RVOLThreshold {
		return
	}

	top, ok := e.books.Top(symbol)
	if !ok {
		return
	}
	obi, ok := indicators.OBI(top.TotalBid, top.TotalAsk)
	if !ok || obi < snap.OBIThreshold {
		return
	}

	emaShort, okS := indicators.EMA(bars, snap.EMAShort)
	emaLong, okL := indicators.EMA(bars, snap.EMALong)
	if !okS || !okL || emaShort <= emaLong {
		return
	}

	buy, sell := e.flow.Totals(symbol)
	strength, ok := indicators.Strength(buy, sell)
	if !ok || strength < snap.StrengthThreshold {
		return
	}

	investment := snap.InvestmentAmount
	if snap.CheckAvailableCash {
		if cash, err := e.gateway.AvailableCash(ctx); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("⚠️ Cash check failed, using configured amount")
		} else if c := cash.IntPart(); c < investment {
			investment = c
		}
	}

	quantity := int64(math.Floor(float64(investment) / bar.Close))
	if quantity <= 0 {
		log.Info().Str("symbol", symbol).Float64("close", bar.Close).Msg("Entry signal but zero quantity, skipped")
		return
	}

	log.Info().
		Str("symbol", symbol).
		Float64("close", bar.Close).
		Float64("orh", orh).
		Float64("rvol", rvol).
		Float64("obi", obi).
		Float64("strength", strength).
		Int64("qty", quantity).
		Msg("🎯 Breakout entry signal")

	e.ledger.Update(symbol, func(pos *Position) *Position {
		if pos != nil {
			// Something appeared since the check above (adopted from a
			// balance update); do not stack entries.
			return pos
		}

		orderID, err := e.gateway.BuyMarket(ctx, symbol, quantity)
		if err != nil {
			// A rejection means no position; never retried on this bar.
			log.Error().Err(err).Str("symbol", symbol).Msg("❌ Entry order failed")
			metrics.OrderFailures.Inc()
			return nil
		}
		metrics.OrdersPlaced.WithLabelValues("BUY").Inc()

		return &Position{
			Symbol:           symbol,
			State:            StatePendingEntry,
			PendingOrderID:   orderID,
			OriginalOrderQty: quantity,
			Risk: RiskParams{
				TargetProfitPct:    snap.TargetProfitPct,
				StopLossPct:        snap.StopLossPct,
				PartialProfitPct:   snap.PartialProfitPct,
				PartialProfitRatio: snap.PartialProfitRatio,
			},
		}
	})
}

// evaluateExit applies the exit rules in priority order and places a
// sell when one fires.
func (e *Evaluator) evaluateExit(ctx context.Context, symbol string, bar market.Bar) {
	snap := e.strategy.Snapshot()
	bars := e.frames.Bars(symbol)
	open := e.sessionOpen(bar.Minute)
	session := sessionBars(bars, open)

	e.ledger.Update(symbol, func(pos *Position) *Position {
		if pos == nil || (pos.State != StateInPosition && pos.State != StateErrorExitOrder && pos.State != StateErrorLiquidation) {
			return pos
		}

		entry, _ := pos.EntryPrice.Float64()
		if entry <= 0 {
			log.Error().Str("symbol", symbol).Msg("🚨 Held position without entry price")
			pos.State = StateErrorExitOrder
			return pos
		}
		profitPct := (bar.Close - entry) / entry * 100

		signal := e.pickExitSignal(pos, bar, bars, session, profitPct, snap)
		if signal == ExitNone {
			return pos
		}

		sizeToSell := pos.Size
		if signal == ExitPartialTP {
			sizeToSell = int64(math.Ceil(float64(pos.Size) * pos.Risk.PartialProfitRatio))
			if sizeToSell >= pos.Size {
				// A partial that would empty the position is a full TP.
				signal = ExitTakeProfit
				sizeToSell = pos.Size
			}
		}

		log.Info().
			Str("symbol", symbol).
			Str("signal", string(signal)).
			Float64("profit_pct", profitPct).
			Int64("size_to_sell", sizeToSell).
			Msg("📤 Exit signal")

		orderID, err := e.gateway.SellMarket(ctx, symbol, sizeToSell)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Str("signal", string(signal)).Msg("❌ Exit order failed")
			metrics.OrderFailures.Inc()
			if signal == ExitKillSwitch {
				pos.State = StateErrorLiquidation
			} else {
				pos.State = StateErrorExitOrder
			}
			return pos
		}
		metrics.OrdersPlaced.WithLabelValues("SELL").Inc()

		pos.State = StatePendingExit
		pos.PendingOrderID = orderID
		pos.ExitSignal = signal
		pos.OriginalSizeBeforeExit = pos.Size
		pos.SizeToSell = sizeToSell
		pos.FilledQty = 0
		pos.FilledValue = decimal.Zero
		pos.lastUnfilledValid = false
		return pos
	})
}

// pickExitSignal walks the exit priority list; first match wins.
func (e *Evaluator) pickExitSignal(pos *Position, bar market.Bar, bars, session []market.Bar, profitPct float64, snap config.StrategyConfig) ExitSignal {
	if pos.State == StateErrorLiquidation {
		// The kill switch already demanded a full exit; retry it
		// regardless of price.
		return ExitKillSwitch
	}
	if e.halts.IsHalted(pos.Symbol) {
		return ExitHaltStop
	}
	if e.afterTimeStop(bar.Minute, snap.TimeStop) {
		return ExitTimeStop
	}
	if profitPct >= pos.Risk.TargetProfitPct {
		return ExitTakeProfit
	}
	if profitPct <= pos.Risk.StopLossPct {
		return ExitStopLoss
	}

	if len(bars) >= 2 {
		prev := bars[:len(bars)-1]

		emaS, okS := indicators.EMA(bars, snap.EMAShort)
		emaL, okL := indicators.EMA(bars, snap.EMALong)
		prevS, okPS := indicators.EMA(prev, snap.EMAShort)
		prevL, okPL := indicators.EMA(prev, snap.EMALong)
		if okS && okL && okPS && okPL && emaS < emaL && prevS >= prevL {
			return ExitEMACross
		}

		if len(session) >= 2 {
			prevSession := session[:len(session)-1]
			vwap, okV := indicators.VWAP(session)
			prevVWAP, okPV := indicators.VWAP(prevSession)
			prevClose := session[len(session)-2].Close
			if okV && okPV && bar.Close < vwap && prevClose >= prevVWAP {
				return ExitVWAPBreak
			}
		}
	}

	if pos.Risk.PartialProfitPct > 0 && !pos.PartialProfitTaken && profitPct >= pos.Risk.PartialProfitPct {
		return ExitPartialTP
	}
	return ExitNone
}

// afterTimeStop reports whether t has reached the time stop on its day.
func (e *Evaluator) afterTimeStop(t time.Time, timeStop string) bool {
	h, m, err := config.ParseHHMM(timeStop)
	if err != nil {
		return false
	}
	local := t.In(e.loc)
	stop := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, e.loc)
	return !local.Before(stop)
}

// sessionBars filters to bars at or after the session open.
func sessionBars(bars []market.Bar, open time.Time) []market.Bar {
	out := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Minute.Before(open) {
			out = append(out, b)
		}
	}
	return out
}
