package broker

import (
	"context"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/google/uuid"
)

// DefaultSimFeeRate is the simulated commission as a fraction of notional.
const DefaultSimFeeRate = 0.001

// Simulator fills every order locally. It leaves the fill price unset so the
// caller prices the trade at its own market quote, and it never does I/O.
type Simulator struct {
	feeRate float64
}

// NewSimulator creates a simulator charging feeRate. Negative rates become 0.
func NewSimulator(feeRate float64) *Simulator {
	if feeRate < 0 {
		feeRate = 0
	}
	return &Simulator{feeRate: feeRate}
}

func (s *Simulator) PlaceOrder(_ context.Context, symbol string, qty float64, side domain.Side, _ domain.OrderType) domain.OrderResult {
	return domain.OrderResult{
		Status:       domain.OrderFilled,
		Venue:        domain.VenuePaper,
		Symbol:       symbol,
		Side:         side,
		FilledQty:    qty,
		FeeRate:      s.feeRate,
		VenueOrderID: "paper-" + uuid.NewString(),
	}
}

// GetPositions returns nothing: simulated holdings live only in the ledger.
func (s *Simulator) GetPositions(context.Context) ([]domain.VenuePosition, error) {
	return nil, nil
}

func (s *Simulator) GetAccount(context.Context) (domain.AccountSummary, error) {
	return domain.AccountSummary{Venue: domain.VenuePaper, Status: "simulated"}, nil
}

func (s *Simulator) IsLive() bool { return false }

func (s *Simulator) Venue() domain.Venue { return domain.VenuePaper }
