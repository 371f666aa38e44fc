package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/database"
)

// TradeRecord is one completed exit cycle.
type TradeRecord struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	EntryTime  time.Time       `json:"entry_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitValue  decimal.Decimal `json:"exit_value"`
	ExitQty    int64           `json:"exit_qty"`
	ExitSignal ExitSignal      `json:"exit_signal"`
	ExitTime   time.Time       `json:"exit_time"`
	PnL        decimal.Decimal `json:"pnl"`
}

// Journal is the append-only trade history sink: one JSON line per
// completed exit in the log file, plus a row in the trade database.
// Journal failures never block trading; they are logged and dropped.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	db   *database.Database

	realized decimal.Decimal
	count    int
}

func NewJournal(path string, db *database.Database) (*Journal, error) {
	j := &Journal{db: db}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		j.file = f
	}

	if db != nil {
		if pnl, err := db.TotalRealizedPnL(); err == nil {
			j.realized = pnl
		}
	}
	return j, nil
}

// Record appends one completed exit. The ID is assigned here.
func (j *Journal) Record(rec TradeRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	j.mu.Lock()
	j.realized = j.realized.Add(rec.PnL)
	j.count++
	file := j.file
	j.mu.Unlock()

	if file != nil {
		line, err := json.Marshal(rec)
		if err == nil {
			j.mu.Lock()
			_, err = file.Write(append(line, '\n'))
			j.mu.Unlock()
		}
		if err != nil {
			log.Error().Err(err).Str("symbol", rec.Symbol).Msg("Journal write failed")
		}
	}

	if j.db != nil {
		row := &database.Trade{
			ID:         rec.ID,
			Symbol:     rec.Symbol,
			EntryTime:  rec.EntryTime,
			EntryPrice: rec.EntryPrice,
			ExitValue:  rec.ExitValue,
			ExitQty:    rec.ExitQty,
			ExitSignal: string(rec.ExitSignal),
			ExitTime:   rec.ExitTime,
			PnL:        rec.PnL,
		}
		if err := j.db.SaveTrade(row); err != nil {
			log.Error().Err(err).Str("symbol", rec.Symbol).Msg("Trade DB write failed")
		}
	}

	log.Info().
		Str("symbol", rec.Symbol).
		Str("signal", string(rec.ExitSignal)).
		Int64("qty", rec.ExitQty).
		Str("pnl", rec.PnL.StringFixed(0)).
		Msg("📒 Trade journaled")
}

// RealizedPnL returns the running realized total and trade count.
func (j *Journal) RealizedPnL() (decimal.Decimal, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.realized, j.count
}

func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
}
