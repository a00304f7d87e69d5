package domain

import "time"

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is one executed fill. Rows are append-only and never mutated.
type Trade struct {
	ID          int64
	AgentID     string
	Symbol      string
	Side        Side
	Quantity    float64
	Price       float64
	Fee         float64
	Venue       Venue
	RealizedPnL float64 // SELL only; zero on buys
	Conviction  float64
	Reasoning   string
	ExecutedAt  time.Time
}

// Value is the gross notional of the fill.
func (t Trade) Value() float64 {
	return t.Quantity * t.Price
}

// IsLoss reports a losing sell. Buys are never losses.
func (t Trade) IsLoss() bool {
	return t.Side == SideSell && t.RealizedPnL < 0
}

// Signal is one generated composite score with its indicator snapshot.
type Signal struct {
	ID        int64
	AgentID   string
	Symbol    string
	Kind      string // "composite"
	Value     float64
	Snapshot  Indicators
	CreatedAt time.Time
}

// Indicators is the quantitative snapshot behind a composite score.
type Indicators struct {
	RSI            float64 `json:"rsi"`
	Momentum       float64 `json:"momentum"`
	Volatility     float64 `json:"volatility"`
	RSISignal      float64 `json:"rsi_signal"`
	MomentumSignal float64 `json:"momentum_signal"`
	Composite      float64 `json:"composite_score"`
}

// NAVRecord is one point of a book's NAV time series, one per scheduler tick.
type NAVRecord struct {
	ID           int64
	Book         string
	NAV          float64
	PeriodReturn float64 // vs the prior record of the same book; 0 for the first
	RecordedAt   time.Time
}

// DecisionRecord logs how a cycle settled, including risk denials.
type DecisionRecord struct {
	ID         int64
	AgentID    string
	Symbol     string
	Action     Action
	Conviction float64
	Status     CycleStatus
	Reason     string
	CreatedAt  time.Time
}
