package market

import "time"

// Bar is a completed one-minute OHLCV bar. Minute is the bar's open
// minute, truncated to the minute in the exchange timezone.
type Bar struct {
	Minute time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// PartialBar is the in-progress bar for the current minute. At most one
// exists per symbol; it is frozen into a Bar on minute rollover.
type PartialBar struct {
	Minute time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Freeze converts the partial into an immutable completed Bar.
func (p *PartialBar) Freeze() Bar {
	return Bar{
		Minute: p.Minute,
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
}

// CompletedBar pairs a frozen bar with its symbol for dispatch.
type CompletedBar struct {
	Symbol string
	Bar    Bar
}
