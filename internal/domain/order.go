package domain

// OrderType is the order style submitted to a venue.
type OrderType string

const OrderMarket OrderType = "market"

// OrderStatus is the outcome reported by a broker adapter.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected" // venue explicitly declined
	OrderError    OrderStatus = "error"    // transport failure, timeout, bad payload
)

// OrderResult is the ephemeral answer of Broker.PlaceOrder. It is never persisted.
type OrderResult struct {
	Status       OrderStatus
	Venue        Venue
	Symbol       string
	Side         Side
	FilledQty    float64
	FilledPrice  *float64 // nil: caller substitutes the market price
	Fee          *float64 // nil: caller derives it from FeeRate
	FeeRate      float64
	VenueOrderID string
	Reason       string
}

// Filled reports whether the ledger must be updated.
func (r OrderResult) Filled() bool {
	return r.Status == OrderFilled && r.FilledQty > 0
}

// Rejected returns a rejected result for venue v.
func Rejected(v Venue, reason string) OrderResult {
	return OrderResult{Status: OrderRejected, Venue: v, Reason: reason}
}

// Failed returns an error result for venue v.
func Failed(v Venue, err error) OrderResult {
	return OrderResult{Status: OrderError, Venue: v, Reason: err.Error()}
}

// VenuePosition is a holding as reported by a venue.
type VenuePosition struct {
	Symbol      string
	Quantity    float64
	AvgCost     float64
	MarketValue float64
}

// AccountSummary is a venue-agnostic account snapshot.
type AccountSummary struct {
	Venue      Venue
	Live       bool
	Equity     float64
	Available  float64
	ProfitLoss float64
	Status     string
}

// Float returns a pointer to v, for optional result fields.
func Float(v float64) *float64 {
	return &v
}
