package ports

import (
	"context"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// Broker routes orders to one venue. Implementations never return transport
// failures from PlaceOrder as errors: they are reported as domain.OrderError.
type Broker interface {
	// PlaceOrder submits an order and reports filled, rejected or error.
	PlaceOrder(ctx context.Context, symbol string, qty float64, side domain.Side, orderType domain.OrderType) domain.OrderResult

	// GetPositions returns the holdings the venue reports for the account.
	GetPositions(ctx context.Context) ([]domain.VenuePosition, error)

	// GetAccount returns an account balance snapshot.
	GetAccount(ctx context.Context) (domain.AccountSummary, error)

	// IsLive reports whether orders carry real capital risk.
	IsLive() bool

	// Venue is the tag recorded on trades booked through this broker.
	Venue() domain.Venue
}

// BrokerRouter resolves the broker for an agent.
type BrokerRouter interface {
	Route(agent domain.Agent) Broker
}
