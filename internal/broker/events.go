package broker

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantbelt/orbgate/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REALTIME EVENT PARSING
// ═══════════════════════════════════════════════════════════════════════════════
//
// The broker sends realtime frames as flat maps keyed by numeric field
// codes, with localized status text and signed price strings. All of
// that is absorbed here, once; the rest of the engine only ever sees
// the typed events below.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Realtime feed type ids.
const (
	FeedTrade   = "0B" // per-trade executions
	FeedBook    = "0D" // order-book totals
	FeedHalt    = "1h" // volatility interruption
	FeedOrder   = "00" // account-global order updates
	FeedBalance = "04" // account-global holdings updates
)

// OrderStatus is the neutral order-update status enumeration.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusAccepted
	StatusFill
	StatusCancelled
	StatusRejected
	StatusModified
)

func (s OrderStatus) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusFill:
		return "FILL"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	case StatusModified:
		return "MODIFIED"
	default:
		return "UNKNOWN"
	}
}

// The broker reports order state as localized text.
var statusText = map[string]OrderStatus{
	"접수": StatusAccepted,
	"체결": StatusFill,
	"취소": StatusCancelled,
	"거부": StatusRejected,
	"확인": StatusCancelled, // cancel/modify confirmation closes the order
	"정정": StatusModified,
}

// TradeEvent is one trade tick. Volume keeps the broker's sign: positive
// is buyer-initiated, negative seller-initiated.
type TradeEvent struct {
	Symbol string
	Price  float64
	Volume int64
	Time   time.Time
}

// BookEvent carries order-book totals plus optional best levels.
type BookEvent struct {
	Symbol string
	Top    market.BookTop
}

// HaltEvent signals a volatility interruption state change.
type HaltEvent struct {
	Symbol      string
	Active      bool
	HaltType    string
	Direction   string
	ReleaseTime string // HHMMSS, informational
}

// OrderUpdateEvent is one account-global execution report.
type OrderUpdateEvent struct {
	OrderID     string
	Symbol      string
	Side        string // "BUY" or "SELL"
	Status      OrderStatus
	ExecQty     int64
	ExecPrice   decimal.Decimal
	UnfilledQty int64
	TotalQty    int64
}

// BalanceEvent is one account-global holdings report.
type BalanceEvent struct {
	Symbol   string
	HeldSize int64
	AvgPrice decimal.Decimal
}

// Event is the union delivered on the stream's event channel.
type Event struct {
	Trade   *TradeEvent
	Book    *BookEvent
	Halt    *HaltEvent
	Order   *OrderUpdateEvent
	Balance *BalanceEvent
}

// parseTradeEvent decodes one 0B record. Field 20 is HHMMSS event
// time, 10 the signed price, 15 the signed volume.
func parseTradeEvent(symbol string, values map[string]string, day time.Time, loc *time.Location) (*TradeEvent, error) {
	price, err := parseSignedPrice(values["10"])
	if err != nil {
		return nil, err
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(values["15"]), 10, 64)
	if err != nil {
		return nil, &DataQualityError{Field: "15", Value: values["15"]}
	}
	ts, err := parseHHMMSS(values["20"], day, loc)
	if err != nil {
		return nil, err
	}

	return &TradeEvent{
		Symbol: market.Normalize(symbol),
		Price:  price,
		Volume: volume,
		Time:   ts,
	}, nil
}

// parseBookEvent decodes one 0D record. 121/125 are total ask/bid
// volume; 41/51/61/71 best ask/bid price and volume when present.
func parseBookEvent(symbol string, values map[string]string, now time.Time) (*BookEvent, error) {
	totalAsk, err := parseAbsInt(values["121"])
	if err != nil {
		return nil, &DataQualityError{Field: "121", Value: values["121"]}
	}
	totalBid, err := parseAbsInt(values["125"])
	if err != nil {
		return nil, &DataQualityError{Field: "125", Value: values["125"]}
	}

	top := market.BookTop{
		TotalBid:  totalBid,
		TotalAsk:  totalAsk,
		UpdatedAt: now,
	}
	if p, err := parseSignedPrice(values["41"]); err == nil {
		top.BestAskPrice = p
	}
	if p, err := parseSignedPrice(values["51"]); err == nil {
		top.BestBidPrice = p
	}
	if v, err := parseAbsInt(values["61"]); err == nil {
		top.BestAskVol = v
	}
	if v, err := parseAbsInt(values["71"]); err == nil {
		top.BestBidVol = v
	}

	return &BookEvent{Symbol: market.Normalize(symbol), Top: top}, nil
}

// parseHaltEvent decodes one 1h record. 9068 is the trigger kind,
// "1" activation and "2" release.
func parseHaltEvent(symbol string, values map[string]string) *HaltEvent {
	return &HaltEvent{
		Symbol:      market.Normalize(symbol),
		Active:      strings.TrimSpace(values["9068"]) == "1",
		HaltType:    strings.TrimSpace(values["1225"]),
		Direction:   strings.TrimSpace(values["1226"]),
		ReleaseTime: strings.TrimSpace(values["1229"]),
	}
}

// parseOrderUpdate decodes one 00 record. 9203 order no, 9001 the
// venue-prefixed symbol, 913 localized status, 911 execution quantity,
// 910 execution price, 902 unfilled quantity, 900 order quantity,
// 905 side.
func parseOrderUpdate(values map[string]string) (*OrderUpdateEvent, error) {
	orderID := strings.TrimSpace(values["9203"])
	symbol := market.Normalize(values["9001"])
	if orderID == "" || symbol == "" {
		return nil, &DataQualityError{Field: "9203/9001", Value: values["9203"] + "/" + values["9001"]}
	}

	status, ok := statusText[strings.TrimSpace(values["913"])]
	if !ok {
		status = StatusUnknown
	}

	ev := &OrderUpdateEvent{
		OrderID: orderID,
		Symbol:  symbol,
		Status:  status,
		Side:    parseOrderSide(values["905"]),
	}

	// Quantities and price are blank on pure status frames.
	if qty, err := parseAbsInt(values["911"]); err == nil {
		ev.ExecQty = qty
	}
	if qty, err := parseAbsInt(values["902"]); err == nil {
		ev.UnfilledQty = qty
	}
	if qty, err := parseAbsInt(values["900"]); err == nil {
		ev.TotalQty = qty
	}
	if px, err := parseSignedPrice(values["910"]); err == nil {
		ev.ExecPrice = decimal.NewFromFloat(px)
	}
	return ev, nil
}

// parseOrderSide decodes field 905. Numeric frames carry "+2"/"-1",
// text frames the localized labels, so the text is matched first.
func parseOrderSide(v string) string {
	switch {
	case strings.Contains(v, "매수"):
		return "BUY"
	case strings.Contains(v, "매도"):
		return "SELL"
	case strings.Contains(v, "2"):
		return "BUY"
	default:
		return "SELL"
	}
}

// parseBalanceEvent decodes one 04 record. 930 is held size, 931 the
// average purchase price.
func parseBalanceEvent(values map[string]string) (*BalanceEvent, error) {
	symbol := market.Normalize(values["9001"])
	if symbol == "" {
		return nil, &DataQualityError{Field: "9001", Value: values["9001"]}
	}
	size, err := parseAbsInt(values["930"])
	if err != nil {
		return nil, &DataQualityError{Field: "930", Value: values["930"]}
	}

	ev := &BalanceEvent{Symbol: symbol, HeldSize: size}
	if px, err := parseSignedPrice(values["931"]); err == nil {
		ev.AvgPrice = decimal.NewFromFloat(px)
	}
	return ev, nil
}

// parseHHMMSS combines a broker HHMMSS stamp with the session day in
// the exchange timezone.
func parseHHMMSS(s string, day time.Time, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) != 6 {
		return time.Time{}, &DataQualityError{Field: "time", Value: s}
	}
	h, err1 := strconv.Atoi(trimmed[0:2])
	m, err2 := strconv.Atoi(trimmed[2:4])
	sec, err3 := strconv.Atoi(trimmed[4:6])
	if err1 != nil || err2 != nil || err3 != nil || h > 23 || m > 59 || sec > 59 {
		return time.Time{}, &DataQualityError{Field: "time", Value: s}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc), nil
}

func parseAbsInt(s string) (int64, error) {
	cleaned := strings.TrimLeft(strings.TrimSpace(s), "+-")
	if cleaned == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(cleaned, 10, 64)
}
