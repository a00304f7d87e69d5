package domain

import "math"

// QtyEpsilon is the quantity below which a position is considered closed.
const QtyEpsilon = 1e-3

// Position is the holding of one agent in one symbol.
type Position struct {
	AgentID  string
	Symbol   string
	Quantity float64 // positive = long
	AvgCost  float64
}

// Closed reports whether the remaining quantity is dust.
func (p Position) Closed() bool {
	return math.Abs(p.Quantity) <= QtyEpsilon
}

// MarketValue marks the position at price.
func (p Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// ApplyBuy accumulates a fill into the position using weighted-average cost.
//
//	avg = (oldQty*oldCost + qty*price) / (oldQty + qty)
func (p Position) ApplyBuy(qty, price float64) Position {
	total := p.Quantity + qty
	if total <= 0 {
		return p
	}
	p.AvgCost = (p.Quantity*p.AvgCost + qty*price) / total
	p.Quantity = total
	return p
}

// ApplySell reduces the position. qty is clamped to the held quantity; the
// returned sold value is the quantity actually removed. Cost basis is unchanged.
func (p Position) ApplySell(qty float64) (Position, float64) {
	sold := math.Min(qty, p.Quantity)
	if sold < 0 {
		sold = 0
	}
	p.Quantity -= sold
	if p.Closed() {
		p.Quantity = 0
	}
	return p, sold
}

// RealizedPnL is the P&L of selling qty at price against avgCost, net of fee.
func RealizedPnL(qty, price, avgCost, fee float64) float64 {
	return (price-avgCost)*qty - fee
}

// MarkToMarket recomputes total capital from scratch: cash plus every position
// valued at its latest price. Symbols missing from prices fall back to cost.
func MarkToMarket(cash float64, positions []Position, prices map[string]float64) float64 {
	total := cash
	for _, p := range positions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			price = p.AvgCost
		}
		total += p.MarketValue(price)
	}
	return math.Max(total, 0)
}
