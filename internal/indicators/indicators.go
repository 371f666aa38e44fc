package indicators

import (
	"time"

	"github.com/quantbelt/orbgate/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INDICATOR KIT - Pure functions over completed 1-minute bars
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every function returns (value, ok). ok=false means the input was
// insufficient to define the indicator; callers must never read the
// value in that case. Unknown is not zero.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ExtremeImbalance is returned by OBI and Strength when the denominator
// side is empty while the numerator side has volume. It is a defined
// value (ok=true), distinct from unknown, and compares greater than any
// realistic threshold.
const ExtremeImbalance = 9999.0

// ORB returns the opening-range high and low over bars whose minute
// falls in [sessionOpen, sessionOpen+orbMinutes). ok=false when no bar
// lies in the window.
func ORB(bars []market.Bar, sessionOpen time.Time, orbMinutes int) (orh, orl float64, ok bool) {
	end := sessionOpen.Add(time.Duration(orbMinutes) * time.Minute)
	for _, b := range bars {
		if b.Minute.Before(sessionOpen) || !b.Minute.Before(end) {
			continue
		}
		if !ok {
			orh, orl, ok = b.High, b.Low, true
			continue
		}
		if b.High > orh {
			orh = b.High
		}
		if b.Low < orl {
			orl = b.Low
		}
	}
	return orh, orl, ok
}

// VWAP is the cumulative volume-weighted average of the typical price
// (H+L+C)/3 over all given bars. ok=false when total volume is zero.
func VWAP(bars []market.Bar) (float64, bool) {
	var pv float64
	var vol int64
	for _, b := range bars {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		vol += b.Volume
	}
	if vol <= 0 {
		return 0, false
	}
	return pv / float64(vol), true
}

// EMA is the exponential moving average of closes with span period,
// seeded with the SMA of the first period bars. ok=false until period
// bars exist.
func EMA(bars []market.Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}

	var seed float64
	for _, b := range bars[:period] {
		seed += b.Close
	}
	ema := seed / float64(period)

	k := 2.0 / float64(period+1)
	for _, b := range bars[period:] {
		ema = (b.Close-ema)*k + ema
	}
	return ema, true
}

// RVOL is the current bar's volume relative to the mean volume of the
// preceding window bars, as a percentage. The current bar is excluded
// from the mean. ok=false with fewer than window+1 bars or a
// non-positive mean.
func RVOL(bars []market.Bar, window int) (float64, bool) {
	if window <= 0 || len(bars) < window+1 {
		return 0, false
	}

	cur := bars[len(bars)-1]
	prior := bars[len(bars)-1-window : len(bars)-1]

	var sum int64
	for _, b := range prior {
		sum += b.Volume
	}
	mean := float64(sum) / float64(window)
	if mean <= 0 {
		return 0, false
	}
	return float64(cur.Volume) / mean * 100, true
}

// OBI is the ratio of total resting bid volume to total resting ask
// volume. An empty ask side with bids present reads as extreme buy
// imbalance; an empty book is unknown.
func OBI(totalBid, totalAsk int64) (float64, bool) {
	if totalAsk <= 0 {
		if totalBid > 0 {
			return ExtremeImbalance, true
		}
		return 0, false
	}
	return float64(totalBid) / float64(totalAsk), true
}

// Strength is 100 * cumulative buy volume / cumulative sell volume.
// All-buy flow reads as ExtremeImbalance; no flow at all is unknown.
func Strength(cumBuy, cumSell int64) (float64, bool) {
	if cumSell <= 0 {
		if cumBuy > 0 {
			return ExtremeImbalance, true
		}
		return 0, false
	}
	return 100 * float64(cumBuy) / float64(cumSell), true
}
