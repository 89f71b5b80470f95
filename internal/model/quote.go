package model

import "time"

// Quote is the normalized, UI-facing market state for one symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        float64   `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	LastUpdated   time.Time `json:"lastUpdated"`
	IsRealData    bool      `json:"isRealData"`

	// Display-only placeholders; never derived from the stream.
	MarketCap  string  `json:"marketCap"`
	Week52High float64 `json:"week52High"`
	Week52Low  float64 `json:"week52Low"`
	AvgVolume  float64 `json:"avgVolume"`
}

// DisplayStats holds the static fields copied into every Quote.
type DisplayStats struct {
	MarketCap  string  `yaml:"market_cap" json:"marketCap"`
	Week52High float64 `yaml:"week52_high" json:"week52High"`
	Week52Low  float64 `yaml:"week52_low" json:"week52Low"`
	AvgVolume  float64 `yaml:"avg_volume" json:"avgVolume"`
}

// Apply copies the display placeholders onto q.
func (d DisplayStats) Apply(q *Quote) {
	q.MarketCap = d.MarketCap
	q.Week52High = d.Week52High
	q.Week52Low = d.Week52Low
	q.AvgVolume = d.AvgVolume
}

// FallbackQuote is the placeholder published when no live tick arrives in time.
type FallbackQuote struct {
	Price         float64 `yaml:"price"`
	Change        float64 `yaml:"change"`
	ChangePercent float64 `yaml:"change_percent"`
	Volume        float64 `yaml:"volume"`
	High          float64 `yaml:"high"`
	Low           float64 `yaml:"low"`
	Open          float64 `yaml:"open"`
}

// DefaultFallback is the documented placeholder used unless overridden.
var DefaultFallback = FallbackQuote{
	Price:         10.25,
	Change:        0.15,
	ChangePercent: 1.48,
	Volume:        125000,
	High:          10.40,
	Low:           10.05,
	Open:          10.10,
}

// IsZero reports whether no field has been set.
func (f FallbackQuote) IsZero() bool {
	return f == FallbackQuote{}
}

// Build returns a synthetic Quote with IsRealData=false.
func (f FallbackQuote) Build(symbol string, now time.Time) *Quote {
	return &Quote{
		Symbol:        symbol,
		Price:         f.Price,
		Change:        f.Change,
		ChangePercent: f.ChangePercent,
		Volume:        f.Volume,
		High:          f.High,
		Low:           f.Low,
		Open:          f.Open,
		LastUpdated:   now,
		IsRealData:    false,
	}
}
