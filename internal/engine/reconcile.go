package engine

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/broker"
	"github.com/quantbelt/orbgate/internal/config"
	"github.com/quantbelt/orbgate/internal/database"
	"github.com/quantbelt/orbgate/internal/metrics"
	"github.com/quantbelt/orbgate/internal/notify"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION & BALANCE RECONCILER
// ═══════════════════════════════════════════════════════════════════════════════
//
// The only component allowed to adopt remote truth over local state.
// Order updates advance the per-symbol state machine; balance updates
// correct drift conservatively: size may be adopted, entry price never
// is (average cost drifts across re-entries, the execution stream is
// the source of truth for entries).
//
// ═══════════════════════════════════════════════════════════════════════════════

type Reconciler struct {
	ledger   *Ledger
	journal  *Journal
	db       *database.Database
	strategy *config.StrategyStore
	notifier *notify.Notifier

	// onExposureChange fires when a position appears or disappears
	// outside the normal entry path, so subscriptions can catch up.
	onExposureChange func()

	now func() time.Time
}

func NewReconciler(ledger *Ledger, journal *Journal, db *database.Database, strategy *config.StrategyStore, notifier *notify.Notifier) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		journal:  journal,
		db:       db,
		strategy: strategy,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetExposureCallback registers the subscription refresh hook.
func (r *Reconciler) SetExposureCallback(fn func()) { r.onExposureChange = fn }

// HandleOrderUpdate applies one execution report. Updates are keyed by
// the matching pending order id; anything else is a no-op, which makes
// late cancels after full fills idempotent.
func (r *Reconciler) HandleOrderUpdate(ev broker.OrderUpdateEvent) {
	var exposureChanged bool

	r.ledger.Update(ev.Symbol, func(pos *Position) *Position {
		if pos == nil {
			log.Debug().Str("symbol", ev.Symbol).Str("order_id", ev.OrderID).Msg("Order update for unknown position ignored")
			return nil
		}
		if pos.PendingOrderID == "" || pos.PendingOrderID != ev.OrderID {
			log.Debug().
				Str("symbol", ev.Symbol).
				Str("order_id", ev.OrderID).
				Str("pending", pos.PendingOrderID).
				Msg("Order update does not match pending order, ignored")
			return pos
		}

		// No execution sequence on this feed; only forward progress in
		// unfilled quantity counts as a new fill.
		if ev.Status == broker.StatusFill {
			if pos.lastUnfilledValid && ev.UnfilledQty >= pos.lastUnfilled {
				log.Debug().Str("symbol", ev.Symbol).Str("order_id", ev.OrderID).Msg("Duplicate fill report ignored")
				return pos
			}
			pos.lastUnfilled = ev.UnfilledQty
			pos.lastUnfilledValid = true
		}

		switch pos.State {
		case StatePendingEntry:
			pos, exposureChanged = r.applyEntryUpdate(pos, ev)
		case StatePendingExit:
			pos, exposureChanged = r.applyExitUpdate(pos, ev)
		default:
			log.Warn().
				Str("symbol", ev.Symbol).
				Str("state", string(pos.State)).
				Str("order_id", ev.OrderID).
				Msg("⚠️ Order update in unexpected state ignored")
		}
		return pos
	})

	metrics.OpenPositions.Set(float64(r.ledger.CountInPosition()))
	if exposureChanged && r.onExposureChange != nil {
		r.onExposureChange()
	}
}

// applyEntryUpdate advances a PENDING_ENTRY position.
func (r *Reconciler) applyEntryUpdate(pos *Position, ev broker.OrderUpdateEvent) (*Position, bool) {
	switch ev.Status {
	case broker.StatusFill:
		if ev.ExecQty <= 0 || !ev.ExecPrice.IsPositive() {
			return pos, false
		}
		pos.FilledQty += ev.ExecQty
		pos.FilledValue = pos.FilledValue.Add(ev.ExecPrice.Mul(decimal.NewFromInt(ev.ExecQty)))

		if ev.UnfilledQty == 0 || pos.FilledQty >= pos.OriginalOrderQty {
			r.promoteToInPosition(pos)
			log.Info().
				Str("symbol", pos.Symbol).
				Int64("size", pos.Size).
				Str("entry", pos.EntryPrice.StringFixed(0)).
				Msg("✅ Entry filled")
			r.notifier.Entry(pos.Symbol, pos.Size, pos.EntryPrice)
			r.savePositionEvent(pos, "OPEN", "entry filled")
			return pos, false
		}

		log.Info().
			Str("symbol", pos.Symbol).
			Int64("filled", pos.FilledQty).
			Int64("ordered", pos.OriginalOrderQty).
			Msg("⏳ Entry partially filled")
		return pos, false

	case broker.StatusCancelled, broker.StatusRejected:
		if pos.FilledQty == 0 {
			log.Info().
				Str("symbol", pos.Symbol).
				Str("status", ev.Status.String()).
				Msg("❌ Entry order gone with no fills, position dropped")
			return nil, true
		}
		// Partial fill then cancel keeps what actually filled.
		r.promoteToInPosition(pos)
		log.Warn().
			Str("symbol", pos.Symbol).
			Int64("size", pos.Size).
			Str("status", ev.Status.String()).
			Msg("⚠️ Entry order cancelled after partial fill, holding filled quantity")
		r.savePositionEvent(pos, "OPEN", "entry cancelled after partial fill")
		return pos, false

	default:
		return pos, false
	}
}

// promoteToInPosition finalizes the entry accumulators into a held
// position. Entry price is fill value over fill quantity.
func (r *Reconciler) promoteToInPosition(pos *Position) {
	pos.State = StateInPosition
	pos.Size = pos.FilledQty
	pos.EntryPrice = pos.FilledValue.Div(decimal.NewFromInt(pos.FilledQty))
	pos.EntryTime = r.now()
	pos.PendingOrderID = ""
	pos.PartialProfitTaken = false
	pos.lastUnfilledValid = false
}

// applyExitUpdate advances a PENDING_EXIT position. The bool result
// reports whether exposure changed (position fully closed).
func (r *Reconciler) applyExitUpdate(pos *Position, ev broker.OrderUpdateEvent) (*Position, bool) {
	switch ev.Status {
	case broker.StatusFill:
		if ev.ExecQty <= 0 || !ev.ExecPrice.IsPositive() {
			return pos, false
		}
		pos.FilledQty += ev.ExecQty
		pos.FilledValue = pos.FilledValue.Add(ev.ExecPrice.Mul(decimal.NewFromInt(ev.ExecQty)))

		if pos.ExitSignal == ExitPartialTP {
			if pos.FilledQty < pos.SizeToSell {
				return pos, false
			}
			return r.completeExitCycle(pos)
		}

		if pos.FilledQty < pos.OriginalSizeBeforeExit {
			log.Info().
				Str("symbol", pos.Symbol).
				Int64("filled", pos.FilledQty).
				Int64("size", pos.OriginalSizeBeforeExit).
				Msg("⏳ Exit partially filled")
			return pos, false
		}
		return r.completeExitCycle(pos)

	case broker.StatusCancelled, broker.StatusRejected:
		// Back to IN_POSITION with whatever remains unsold.
		remaining := pos.OriginalSizeBeforeExit - pos.FilledQty
		log.Warn().
			Str("symbol", pos.Symbol).
			Str("status", ev.Status.String()).
			Int64("remaining", remaining).
			Str("signal", string(pos.ExitSignal)).
			Msg("⚠️ Exit order cancelled, position restored")
		if remaining <= 0 {
			return r.completeExitCycle(pos)
		}
		pos.State = StateInPosition
		pos.Size = remaining
		pos.PendingOrderID = ""
		pos.ExitSignal = ExitNone
		pos.SizeToSell = 0
		pos.lastUnfilledValid = false
		return pos, false

	default:
		return pos, false
	}
}

// completeExitCycle journals the finished cycle and either reduces the
// position (partial TP) or closes it.
func (r *Reconciler) completeExitCycle(pos *Position) (*Position, bool) {
	exitQty := pos.FilledQty
	pnl := pos.FilledValue.Sub(pos.EntryPrice.Mul(decimal.NewFromInt(exitQty)))

	rec := TradeRecord{
		Symbol:     pos.Symbol,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.EntryPrice,
		ExitValue:  pos.FilledValue,
		ExitQty:    exitQty,
		ExitSignal: pos.ExitSignal,
		ExitTime:   r.now(),
		PnL:        pnl,
	}
	r.journal.Record(rec)
	metrics.TradesClosed.Inc()
	r.notifier.Exit(pos.Symbol, string(pos.ExitSignal), exitQty, pnl)

	remaining := pos.Size - exitQty
	if pos.ExitSignal == ExitPartialTP && remaining > 0 {
		pos.State = StateInPosition
		pos.Size = remaining
		pos.PendingOrderID = ""
		pos.ExitSignal = ExitNone
		pos.SizeToSell = 0
		pos.PartialProfitTaken = true
		pos.lastUnfilledValid = false
		log.Info().
			Str("symbol", pos.Symbol).
			Int64("sold", exitQty).
			Int64("remaining", remaining).
			Msg("✅ Partial take-profit filled")
		return pos, false
	}

	log.Info().
		Str("symbol", pos.Symbol).
		Str("signal", string(rec.ExitSignal)).
		Str("pnl", pnl.StringFixed(0)).
		Msg("✅ Position closed")
	r.savePositionEvent(pos, "CLOSE", string(rec.ExitSignal))
	return nil, true
}

// HandleBalanceUpdate reconciles a holdings report against the ledger.
func (r *Reconciler) HandleBalanceUpdate(ev broker.BalanceEvent) {
	var exposureChanged bool

	r.ledger.Update(ev.Symbol, func(pos *Position) *Position {
		switch {
		case pos == nil:
			if ev.HeldSize <= 0 {
				return nil
			}
			// Remote holds something we do not know about; adopt it
			// with the current strategy snapshot as its risk params.
			snap := r.strategy.Snapshot()
			adopted := &Position{
				Symbol:     ev.Symbol,
				State:      StateInPosition,
				Size:       ev.HeldSize,
				EntryPrice: ev.AvgPrice,
				EntryTime:  r.now(),
				Risk: RiskParams{
					TargetProfitPct:    snap.TargetProfitPct,
					StopLossPct:        snap.StopLossPct,
					PartialProfitPct:   snap.PartialProfitPct,
					PartialProfitRatio: snap.PartialProfitRatio,
				},
			}
			log.Warn().
				Str("symbol", ev.Symbol).
				Int64("size", ev.HeldSize).
				Msg("⚠️ Remote holding adopted into ledger")
			r.savePositionEvent(adopted, "ADOPTED", "balance update")
			exposureChanged = true
			return adopted

		case pos.State == StateInPosition && ev.HeldSize == 0 && pos.Size > 0:
			// Remote says flat with no exit in flight: trust it.
			log.Warn().
				Str("symbol", ev.Symbol).
				Int64("local_size", pos.Size).
				Msg("⚠️ Remote reports zero holding, closing local position")
			r.savePositionEvent(pos, "CLOSE", "balance drift to zero")
			exposureChanged = true
			return nil

		case (pos.State == StateInPosition || pos.State == StatePendingExit) && ev.HeldSize > 0 && pos.Size != ev.HeldSize:
			// Adopt remote size; never the entry price.
			log.Warn().
				Str("symbol", ev.Symbol).
				Int64("local_size", pos.Size).
				Int64("remote_size", ev.HeldSize).
				Msg("⚠️ Size drift corrected from balance update")
			pos.Size = ev.HeldSize
			return pos

		default:
			return pos
		}
	})

	metrics.OpenPositions.Set(float64(r.ledger.CountInPosition()))
	if exposureChanged && r.onExposureChange != nil {
		r.onExposureChange()
	}
}

func (r *Reconciler) savePositionEvent(pos *Position, event, reason string) {
	if r.db == nil {
		return
	}
	row := &database.PositionEvent{
		Symbol:     pos.Symbol,
		Event:      event,
		State:      string(pos.State),
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		Reason:     reason,
	}
	if err := r.db.SavePositionEvent(row); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("Position event write failed")
	}
}
