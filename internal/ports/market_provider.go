package ports

import (
	"context"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// PriceProvider serves market data. History returns closes oldest first; a
// short or nil series means insufficient data.
type PriceProvider interface {
	History(ctx context.Context, symbol string, days int) ([]float64, error)
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// SignalGenerator turns a price series into a composite score. Pure.
type SignalGenerator interface {
	Generate(symbol string, closes []float64) domain.Indicators
}

// DecisionProvider asks an external model for a trade decision.
type DecisionProvider interface {
	Decide(ctx context.Context, req DecisionRequest) (domain.Decision, error)
}

// DecisionRequest is everything a provider sees about one opportunity.
type DecisionRequest struct {
	AgentID  string
	Provider string
	Symbol   string
	Signals  domain.Indicators
	Context  domain.MarketContext
}
