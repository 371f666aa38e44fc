package broker

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Order RPCs. The return value is provisional: an accepted order id
// says nothing about fills, the execution feed is the truth.

const (
	ordersPath  = "/api/dostk/ordr"
	accountPath = "/api/dostk/acnt"

	apiBuyOrder    = "kt10000"
	apiSellOrder   = "kt10001"
	apiCancelOrder = "kt10003"
	apiBalance     = "kt00001"

	// trde_tp 3 is a market order; ord_uv stays empty for market.
	tradeTypeMarket = "3"
)

type orderResponse struct {
	ReturnCode returnCode `json:"return_code"`
	ReturnMsg  string     `json:"return_msg"`
	OrderNo    string     `json:"ord_no"`
}

// BuyMarket places a market buy and returns the broker order id.
func (c *Client) BuyMarket(ctx context.Context, symbol string, quantity int64) (string, error) {
	return c.placeOrder(ctx, apiBuyOrder, symbol, quantity)
}

// SellMarket places a market sell and returns the broker order id.
func (c *Client) SellMarket(ctx context.Context, symbol string, quantity int64) (string, error) {
	return c.placeOrder(ctx, apiSellOrder, symbol, quantity)
}

func (c *Client) placeOrder(ctx context.Context, apiID, symbol string, quantity int64) (string, error) {
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"stk_cd":       symbol,
		"ord_qty":      strconv.FormatInt(quantity, 10),
		"ord_uv":       "",
		"trde_tp":      tradeTypeMarket,
		"cond_uv":      "",
	}

	var resp orderResponse
	if err := c.call(ctx, apiID, ordersPath, body, &resp, true); err != nil {
		return "", err
	}
	if !resp.ReturnCode.OK() || resp.OrderNo == "" {
		return "", &BrokerError{APIID: apiID, Code: resp.ReturnCode.String(), Message: resp.ReturnMsg}
	}

	side := "BUY"
	if apiID == apiSellOrder {
		side = "SELL"
	}
	log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Int64("qty", quantity).
		Str("order_id", resp.OrderNo).
		Msg("✅ Market order accepted")
	return resp.OrderNo, nil
}

// Cancel cancels the remainder of an order. quantity 0 means "all
// remaining".
func (c *Client) Cancel(ctx context.Context, orderID, symbol string, quantity int64) error {
	body := map[string]string{
		"dmst_stex_tp": "KRX",
		"orig_ord_no":  orderID,
		"stk_cd":       symbol,
		"cncl_qty":     strconv.FormatInt(quantity, 10),
	}

	var resp orderResponse
	if err := c.call(ctx, apiCancelOrder, ordersPath, body, &resp, true); err != nil {
		return err
	}
	if !resp.ReturnCode.OK() || resp.OrderNo == "" {
		return &BrokerError{APIID: apiCancelOrder, Code: resp.ReturnCode.String(), Message: resp.ReturnMsg}
	}

	log.Info().
		Str("symbol", symbol).
		Str("orig_order_id", orderID).
		Str("cancel_order_id", resp.OrderNo).
		Msg("✅ Cancel accepted")
	return nil
}

// AvailableCash returns the orderable cash amount for the account.
func (c *Client) AvailableCash(ctx context.Context) (decimal.Decimal, error) {
	body := map[string]string{"qry_tp": "3"}

	var resp struct {
		ReturnCode returnCode `json:"return_code"`
		ReturnMsg  string     `json:"return_msg"`
		OrdAlowAmt string     `json:"ord_alow_amt"`
	}
	if err := c.call(ctx, apiBalance, accountPath, body, &resp, false); err != nil {
		return decimal.Zero, err
	}
	if !resp.ReturnCode.OK() {
		return decimal.Zero, &BrokerError{APIID: apiBalance, Code: resp.ReturnCode.String(), Message: resp.ReturnMsg}
	}

	// The field arrives zero-padded, e.g. "000001000000".
	cleaned := strings.TrimLeft(strings.TrimSpace(resp.OrdAlowAmt), "0")
	if cleaned == "" {
		return decimal.Zero, nil
	}
	cash, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &DataQualityError{Field: "ord_alow_amt", Value: resp.OrdAlowAmt}
	}
	return cash, nil
}
