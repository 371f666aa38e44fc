package broker

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/quantbelt/orbgate/internal/market"
)

const (
	rankingPath = "/api/dostk/rkinfo"
	apiRanking  = "ka10023"
)

// RankingFilters mirrors the volume-surge ranking RPC parameters. The
// remote filter is coarser than what the screener wants, so the
// screener re-filters in process.
type RankingFilters struct {
	Market    string // mrkt_tp, "000" = all
	MinVolume int64  // trde_qty_tp bucket
}

// RankedStock is one parsed ranking row. SurgeRate is the volume surge
// percentage the ranking is sorted by.
type RankedStock struct {
	Symbol    string
	Name      string
	Price     float64
	SurgeRate float64
}

// VolumeSurgeRanking calls the volume-surge ranking RPC and parses the
// rows. Rows with unparseable numerics are dropped.
func (c *Client) VolumeSurgeRanking(ctx context.Context, f RankingFilters) ([]RankedStock, error) {
	mrkt := f.Market
	if mrkt == "" {
		mrkt = "000"
	}
	body := map[string]string{
		"mrkt_tp":     mrkt,
		"sort_tp":     "2",
		"tm_tp":       "1",
		"tm":          "5",
		"trde_qty_tp": strconv.FormatInt(f.MinVolume/10_000, 10),
		"stk_cnd":     "14",
		"pric_tp":     "8",
		"stex_tp":     "3",
	}

	var resp struct {
		ReturnCode returnCode `json:"return_code"`
		ReturnMsg  string     `json:"return_msg"`
		Rows       []struct {
			Symbol    string `json:"stk_cd"`
			Name      string `json:"stk_nm"`
			Price     string `json:"cur_prc"`
			SurgeRate string `json:"sdnin_rt"`
		} `json:"trde_qty_sdnin"`
	}
	if err := c.call(ctx, apiRanking, rankingPath, body, &resp, false); err != nil {
		return nil, err
	}
	if !resp.ReturnCode.OK() {
		return nil, &BrokerError{APIID: apiRanking, Code: resp.ReturnCode.String(), Message: resp.ReturnMsg}
	}

	stocks := make([]RankedStock, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		if row.Symbol == "" || row.Name == "" {
			continue
		}
		price, err := parseSignedPrice(row.Price)
		if err != nil {
			log.Debug().Str("symbol", row.Symbol).Str("cur_prc", row.Price).Msg("Ranking row dropped")
			continue
		}
		surge, err := strconv.ParseFloat(row.SurgeRate, 64)
		if err != nil {
			log.Debug().Str("symbol", row.Symbol).Str("sdnin_rt", row.SurgeRate).Msg("Ranking row dropped")
			continue
		}
		stocks = append(stocks, RankedStock{
			Symbol:    market.Normalize(row.Symbol),
			Name:      row.Name,
			Price:     price,
			SurgeRate: surge,
		})
	}
	return stocks, nil
}
