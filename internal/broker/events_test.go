package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}()

var tradingDay = time.Date(2026, 8, 24, 0, 0, 0, 0, seoul)

func TestParseTradeEvent(t *testing.T) {
	ev, err := parseTradeEvent("A005930_NX", map[string]string{
		"20": "093015",
		"10": "-71200",
		"15": "-350",
	}, tradingDay, seoul)
	require.NoError(t, err)

	assert.Equal(t, "005930", ev.Symbol)
	assert.Equal(t, 71200.0, ev.Price)
	assert.Equal(t, int64(-350), ev.Volume)
	assert.Equal(t, time.Date(2026, 8, 24, 9, 30, 15, 0, seoul), ev.Time)
}

func TestParseTradeEventRejectsBadFields(t *testing.T) {
	_, err := parseTradeEvent("A005930", map[string]string{
		"20": "093015", "10": "0", "15": "100",
	}, tradingDay, seoul)
	assert.Error(t, err, "zero price")

	_, err = parseTradeEvent("A005930", map[string]string{
		"20": "9301", "10": "+71200", "15": "100",
	}, tradingDay, seoul)
	assert.Error(t, err, "short timestamp")

	_, err = parseTradeEvent("A005930", map[string]string{
		"20": "093015", "10": "+71200", "15": "",
	}, tradingDay, seoul)
	assert.Error(t, err, "missing volume")
}

func TestParseBookEvent(t *testing.T) {
	now := time.Now()
	ev, err := parseBookEvent("A005930", map[string]string{
		"121": "12000",
		"125": "30000",
		"41":  "+71300",
		"51":  "+71200",
		"61":  "500",
		"71":  "800",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "005930", ev.Symbol)
	assert.Equal(t, int64(12000), ev.Top.TotalAsk)
	assert.Equal(t, int64(30000), ev.Top.TotalBid)
	assert.Equal(t, 71300.0, ev.Top.BestAskPrice)
	assert.Equal(t, 71200.0, ev.Top.BestBidPrice)
	assert.Equal(t, int64(500), ev.Top.BestAskVol)
	assert.Equal(t, int64(800), ev.Top.BestBidVol)
	assert.Equal(t, now, ev.Top.UpdatedAt)
}

func TestParseHaltEvent(t *testing.T) {
	ev := parseHaltEvent("A005930", map[string]string{"9068": "1", "1225": "1"})
	assert.Equal(t, "005930", ev.Symbol)
	assert.True(t, ev.Active)

	ev = parseHaltEvent("A005930", map[string]string{"9068": "2"})
	assert.False(t, ev.Active)
}

func TestParseOrderUpdateFill(t *testing.T) {
	ev, err := parseOrderUpdate(map[string]string{
		"9203": "0000071",
		"9001": "A005930",
		"913":  "체결",
		"905":  "+매수",
		"911":  "40",
		"910":  "+71200",
		"902":  "59",
		"900":  "99",
	})
	require.NoError(t, err)

	assert.Equal(t, "0000071", ev.OrderID)
	assert.Equal(t, "005930", ev.Symbol)
	assert.Equal(t, StatusFill, ev.Status)
	assert.Equal(t, "BUY", ev.Side)
	assert.Equal(t, int64(40), ev.ExecQty)
	assert.Equal(t, int64(59), ev.UnfilledQty)
	assert.Equal(t, int64(99), ev.TotalQty)
	assert.Equal(t, "71200", ev.ExecPrice.StringFixed(0))
}

func TestParseOrderUpdateSide(t *testing.T) {
	// The broker sends 905 numerically on some frames and as localized
	// text on others; both forms must map to the same side.
	cases := []struct {
		raw  string
		want string
	}{
		{"+2", "BUY"},
		{"2", "BUY"},
		{"+매수", "BUY"},
		{"매수", "BUY"},
		{"-1", "SELL"},
		{"1", "SELL"},
		{"-매도", "SELL"},
		{"매도", "SELL"},
		{"", "SELL"},
	}
	for _, tc := range cases {
		ev, err := parseOrderUpdate(map[string]string{
			"9203": "1", "9001": "A005930", "913": "접수", "905": tc.raw,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.want, ev.Side, "905=%q", tc.raw)
		assert.Equal(t, StatusAccepted, ev.Status)
	}
}

func TestParseOrderUpdateStatuses(t *testing.T) {
	cases := map[string]OrderStatus{
		"접수":  StatusAccepted,
		"체결":  StatusFill,
		"취소":  StatusCancelled,
		"거부":  StatusRejected,
		"확인":  StatusCancelled,
		"정정":  StatusModified,
		"???": StatusUnknown,
	}
	for text, want := range cases {
		ev, err := parseOrderUpdate(map[string]string{
			"9203": "1", "9001": "A005930", "913": text,
		})
		require.NoError(t, err)
		assert.Equal(t, want, ev.Status, "status %q", text)
	}
}

func TestParseOrderUpdateRequiresIdentity(t *testing.T) {
	_, err := parseOrderUpdate(map[string]string{"9001": "A005930"})
	assert.Error(t, err)

	_, err = parseOrderUpdate(map[string]string{"9203": "1"})
	assert.Error(t, err)
}

func TestParseBalanceEvent(t *testing.T) {
	ev, err := parseBalanceEvent(map[string]string{
		"9001": "A005930",
		"930":  "99",
		"931":  "71150",
	})
	require.NoError(t, err)

	assert.Equal(t, "005930", ev.Symbol)
	assert.Equal(t, int64(99), ev.HeldSize)
	assert.Equal(t, "71150", ev.AvgPrice.StringFixed(0))

	_, err = parseBalanceEvent(map[string]string{"930": "99"})
	assert.Error(t, err)
}
