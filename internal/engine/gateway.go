package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the order facade the engine trades through. The broker
// client implements it; tests substitute a fake. Acceptance is
// provisional, fills arrive on the order-update feed.
type Gateway interface {
	BuyMarket(ctx context.Context, symbol string, quantity int64) (orderID string, err error)
	SellMarket(ctx context.Context, symbol string, quantity int64) (orderID string, err error)
	Cancel(ctx context.Context, orderID, symbol string, quantity int64) error
	AvailableCash(ctx context.Context) (decimal.Decimal, error)
}
