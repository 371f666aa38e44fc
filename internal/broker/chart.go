package broker

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/market"
)

const (
	chartPath    = "/api/dostk/chart"
	apiChart     = "ka10080"
	chartRowsKey = "stk_min_pole_chart_qry"
)

type chartRow struct {
	ContractTime string `json:"cntr_tm"` // yyyymmddhhmmss
	Close        string `json:"cur_prc"`
	Open         string `json:"open_pric"`
	High         string `json:"high_pric"`
	Low          string `json:"low_pric"`
	Volume       string `json:"trde_qty"`
}

// MinuteChart fetches the symbol's recent 1-minute bars. The broker
// returns rows most recent first; the result here is sorted ascending
// by minute, ready for FrameStore.SeedHistory. Rows with unparseable
// fields are dropped and logged, never zero-filled.
func (c *Client) MinuteChart(ctx context.Context, symbol string) ([]market.Bar, error) {
	body := map[string]string{
		"stk_cd":       symbol,
		"tic_scope":    "1",
		"upd_stkpc_tp": "0",
	}

	var resp struct {
		ReturnCode returnCode `json:"return_code"`
		ReturnMsg  string     `json:"return_msg"`
		Rows       []chartRow `json:"stk_min_pole_chart_qry"`
	}
	if err := c.call(ctx, apiChart, chartPath, body, &resp, false); err != nil {
		return nil, err
	}
	if !resp.ReturnCode.OK() {
		return nil, &BrokerError{APIID: apiChart, Code: resp.ReturnCode.String(), Message: resp.ReturnMsg}
	}

	bars := make([]market.Bar, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		bar, err := row.toBar(c.loc)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Chart row dropped")
			continue
		}
		bars = append(bars, bar)
	}

	// Reverse into ascending minute order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (r chartRow) toBar(loc *time.Location) (market.Bar, error) {
	ts, err := time.ParseInLocation("20060102150405", r.ContractTime, loc)
	if err != nil {
		return market.Bar{}, &DataQualityError{Field: "cntr_tm", Value: r.ContractTime}
	}

	open, err := parseSignedPrice(r.Open)
	if err != nil {
		return market.Bar{}, err
	}
	high, err := parseSignedPrice(r.High)
	if err != nil {
		return market.Bar{}, err
	}
	low, err := parseSignedPrice(r.Low)
	if err != nil {
		return market.Bar{}, err
	}
	closePx, err := parseSignedPrice(r.Close)
	if err != nil {
		return market.Bar{}, err
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(r.Volume), 10, 64)
	if err != nil {
		return market.Bar{}, &DataQualityError{Field: "trde_qty", Value: r.Volume}
	}

	return market.Bar{
		Minute: ts.Truncate(time.Minute),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
	}, nil
}

// parseSignedPrice strips the broker's +/- tick-direction prefix and
// returns the absolute price.
func parseSignedPrice(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	cleaned := strings.TrimLeft(trimmed, "+-")
	if cleaned == "" {
		return 0, &DataQualityError{Field: "price", Value: s}
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 || math.IsNaN(v) {
		return 0, &DataQualityError{Field: "price", Value: s}
	}
	return v, nil
}
