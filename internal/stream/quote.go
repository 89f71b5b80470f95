package stream

import (
	"github.com/shopspring/decimal"

	"TickerStream/internal/feed"
)

var hundred = decimal.NewFromInt(100)

// firstPrice returns the first present, non-zero value.
func firstPrice(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil && *v != 0 {
			return *v
		}
	}
	return 0
}

// tickPrices returns the price and open of an aggregate:
// price = close, else VWAP; open = open, else official open, else price.
func tickPrices(a *feed.Aggregate) (price, open float64) {
	price = firstPrice(a.Close, a.VWAP)
	open = firstPrice(a.Open, a.OfficialOpen)
	if open == 0 {
		open = price
	}
	return price, open
}

// priceChange returns price-reference and the change in percent of reference.
func priceChange(price, reference float64) (change, percent float64) {
	p := decimal.NewFromFloat(price)
	r := decimal.NewFromFloat(reference)
	diff := p.Sub(r)
	change = diff.InexactFloat64()
	if r.IsZero() {
		return change, 0
	}
	return change, diff.Div(r).Mul(hundred).InexactFloat64()
}
