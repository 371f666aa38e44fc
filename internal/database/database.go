package database

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// Models

// Trade is one completed exit cycle: a partial TP and the final close
// of the same position each produce their own row.
type Trade struct {
	ID         string `gorm:"primaryKey"`
	Symbol     string `gorm:"index"`
	EntryTime  time.Time
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,4)"`
	ExitValue  decimal.Decimal `gorm:"type:decimal(20,4)"`
	ExitQty    int64
	ExitSignal string
	ExitTime   time.Time
	PnL        decimal.Decimal `gorm:"type:decimal(20,4)"`
	CreatedAt  time.Time
}

// PositionEvent is an audit row written on every position open and
// close; the dashboard's history view reads these.
type PositionEvent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"index"`
	Event      string // "OPEN", "CLOSE", "ADOPTED"
	State      string
	Size       int64
	EntryPrice decimal.Decimal `gorm:"type:decimal(20,4)"`
	Reason     string
	CreatedAt  time.Time
}

// New opens the trade database. A postgres:// DSN selects PostgreSQL,
// anything else is treated as a SQLite file path.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &PositionEvent{}); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Trade operations

func (d *Database) SaveTrade(trade *Trade) error {
	return d.db.Create(trade).Error
}

func (d *Database) RecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.Order("exit_time DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (d *Database) TotalRealizedPnL() (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&Trade{}).Select("COALESCE(SUM(pn_l), 0) as total").Scan(&result).Error
	return result.Total, err
}

// Position event operations

func (d *Database) SavePositionEvent(ev *PositionEvent) error {
	return d.db.Create(ev).Error
}

func (d *Database) RecentPositionEvents(limit int) ([]PositionEvent, error) {
	var events []PositionEvent
	err := d.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
