package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// testClient wires a Client against an httptest server with the rate
// limiter opened up and a static token.
func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := &Client{
		baseURL:    srv.URL,
		appKey:     "key",
		appSecret:  "secret",
		loc:        seoul,
		httpClient: srv.Client(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	c.tokens = newTokenSource("", func(ctx context.Context) (string, time.Time, error) {
		return "test-token", time.Now().Add(time.Hour), nil
	})
	return c
}

func TestBuyMarketSendsOrderRPC(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]string

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"return_code": 0, "return_msg": "ok", "ord_no": "0000071",
		})
	}))

	orderID, err := c.BuyMarket(context.Background(), "005930", 99)
	require.NoError(t, err)
	assert.Equal(t, "0000071", orderID)

	assert.Equal(t, "kt10000", gotHeaders.Get("api-id"))
	assert.Equal(t, "Bearer test-token", gotHeaders.Get("Authorization"))
	assert.Equal(t, "P", gotHeaders.Get("custtype"))

	assert.Equal(t, "KRX", gotBody["dmst_stex_tp"])
	assert.Equal(t, "005930", gotBody["stk_cd"])
	assert.Equal(t, "99", gotBody["ord_qty"])
	assert.Equal(t, "3", gotBody["trde_tp"])
	assert.Empty(t, gotBody["ord_uv"])
}

func TestPlaceOrderRejectsNonZeroReturnCode(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"return_code": 8005, "return_msg": "insufficient cash",
		})
	}))

	_, err := c.SellMarket(context.Background(), "005930", 10)
	require.Error(t, err)
	var brokerErr *BrokerError
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, "insufficient cash", brokerErr.Message)
}

func TestCallInvalidatesTokenOn401(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.BuyMarket(context.Background(), "005930", 1)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestCallMapsRateLimit(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.BuyMarket(context.Background(), "005930", 1)
	var rlErr *RateLimitError
	assert.ErrorAs(t, err, &rlErr)
}

func TestAvailableCashStripsZeroPadding(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kt00001", r.Header.Get("api-id"))
		json.NewEncoder(w).Encode(map[string]any{
			"return_code": "0", "ord_alow_amt": "000001000000",
		})
	}))

	cash, err := c.AvailableCash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000", cash.StringFixed(0))
}

func TestMinuteChartReversesAndParses(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"return_code": 0,
			"stk_min_pole_chart_qry": []map[string]string{
				// Most recent first, tick-direction signs on prices.
				{"cntr_tm": "20260824090200", "cur_prc": "-71100", "open_pric": "+71200", "high_pric": "+71300", "low_pric": "-71000", "trde_qty": "300"},
				{"cntr_tm": "20260824090100", "cur_prc": "+71200", "open_pric": "+71100", "high_pric": "+71250", "low_pric": "-71050", "trde_qty": "200"},
				{"cntr_tm": "bad-stamp", "cur_prc": "+1", "open_pric": "+1", "high_pric": "+1", "low_pric": "+1", "trde_qty": "1"},
			},
		})
	}))

	bars, err := c.MinuteChart(context.Background(), "005930")
	require.NoError(t, err)
	require.Len(t, bars, 2, "bad row dropped")

	assert.True(t, bars[0].Minute.Before(bars[1].Minute))
	assert.Equal(t, 71200.0, bars[0].Close)
	assert.Equal(t, 71100.0, bars[1].Close)
	assert.Equal(t, int64(300), bars[1].Volume)
}

func TestVolumeSurgeRankingParsesRows(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "000", body["mrkt_tp"])
		assert.Equal(t, "2", body["sort_tp"])

		json.NewEncoder(w).Encode(map[string]any{
			"return_code": 0,
			"trde_qty_sdnin": []map[string]string{
				{"stk_cd": "005930", "stk_nm": "Samsung", "cur_prc": "+71200", "sdnin_rt": "250.5"},
				{"stk_cd": "000660", "stk_nm": "Hynix", "cur_prc": "-180000", "sdnin_rt": "130.0"},
				{"stk_cd": "123456", "stk_nm": "Broken", "cur_prc": "junk", "sdnin_rt": "100"},
			},
		})
	}))

	stocks, err := c.VolumeSurgeRanking(context.Background(), RankingFilters{})
	require.NoError(t, err)
	require.Len(t, stocks, 2)

	assert.Equal(t, "005930", stocks[0].Symbol)
	assert.Equal(t, 71200.0, stocks[0].Price)
	assert.Equal(t, 250.5, stocks[0].SurgeRate)
	assert.Equal(t, 180000.0, stocks[1].Price)
}

func TestParseSignedPrice(t *testing.T) {
	for in, want := range map[string]float64{
		"+71200": 71200, "-71200": 71200, "71200": 71200, " +5 ": 5,
	} {
		v, err := parseSignedPrice(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, v)
	}

	for _, in := range []string{"", "+", "0", "-0", "abc"} {
		_, err := parseSignedPrice(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestReturnCodeAbsorbsNumberOrString(t *testing.T) {
	var out struct {
		Code returnCode `json:"return_code"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"return_code":0}`), &out))
	assert.True(t, out.Code.OK())

	require.NoError(t, json.Unmarshal([]byte(`{"return_code":"0"}`), &out))
	assert.True(t, out.Code.OK())

	require.NoError(t, json.Unmarshal([]byte(`{"return_code":8005}`), &out))
	assert.False(t, out.Code.OK())
}
