package domain

import "math"

// Action is the recommendation of a decision provider.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// DefaultMinConviction is the global threshold below which any action becomes HOLD.
const DefaultMinConviction = 0.5

// Decision is the output of a decision provider or the rule-based fallback.
type Decision struct {
	Action       Action  `json:"action"`
	Conviction   float64 `json:"conviction"`    // [0, 1]
	SizeFraction float64 `json:"position_size"` // fraction of capital
	Reasoning    string  `json:"reasoning"`
}

// Actionable reports whether the decision asks for an order.
func (d Decision) Actionable() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

// Side maps an actionable decision to an order side.
func (d Decision) Side() Side {
	if d.Action == ActionSell {
		return SideSell
	}
	return SideBuy
}

// Normalize bounds conviction to [0,1] and size to [0,1], maps unknown actions
// to HOLD, and coerces any decision with conviction below minConviction to HOLD.
func (d Decision) Normalize(minConviction float64) Decision {
	if math.IsNaN(d.Conviction) {
		d.Conviction = 0
	}
	if math.IsNaN(d.SizeFraction) {
		d.SizeFraction = 0
	}
	d.Conviction = math.Min(math.Max(d.Conviction, 0), 1)
	d.SizeFraction = math.Min(math.Max(d.SizeFraction, 0), 1)

	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		d.Action = ActionHold
	}
	if d.Conviction < minConviction {
		d.Action = ActionHold
	}
	return d
}

// MarketContext is the broad market backdrop handed to decision providers.
type MarketContext struct {
	SPY          float64 `json:"spy_price"`
	VIX          float64 `json:"vix"`
	Regime       string  `json:"market_regime"`
	CurrentPrice float64 `json:"current_price"`
}

// RegimeFor classifies a VIX level.
func RegimeFor(vix float64) string {
	switch {
	case vix > 25:
		return "risk_off"
	case vix < 18:
		return "risk_on"
	default:
		return "neutral"
	}
}
