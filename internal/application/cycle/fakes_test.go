package cycle_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
)

// --- storage ---

type fakeStore struct {
	mu        sync.Mutex
	positions map[string][]domain.Position
	trades    []domain.Trade
	commits   []domain.LedgerChange
	commitErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{positions: map[string][]domain.Position{}}
}

func (s *fakeStore) ActiveAgents(context.Context, domain.AssetClass) ([]domain.Agent, error) {
	return nil, nil
}
func (s *fakeStore) GetAgent(context.Context, string) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrAgentNotFound
}
func (s *fakeStore) SeedAgents(context.Context, []domain.Agent) error { return nil }
func (s *fakeStore) SetAgentActive(context.Context, string, bool) error { return nil }
func (s *fakeStore) RecordNAV(context.Context, string, float64) (domain.NAVRecord, error) {
	return domain.NAVRecord{}, nil
}
func (s *fakeStore) NAVHistory(context.Context, string, int) ([]domain.NAVRecord, error) {
	return nil, nil
}
func (s *fakeStore) RecentTrades(context.Context, int) ([]domain.Trade, error) { return nil, nil }
func (s *fakeStore) RecentSignals(context.Context, int) ([]domain.Signal, error) { return nil, nil }
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) Positions(_ context.Context, agentID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Position(nil), s.positions[agentID]...), nil
}

func (s *fakeStore) TradesSince(_ context.Context, agentID string, since time.Time) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.AgentID == agentID && !t.ExecutedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) RecentSells(_ context.Context, agentID string, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if t := s.trades[i]; t.AgentID == agentID && t.Side == domain.SideSell {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) Commit(_ context.Context, c *domain.LedgerChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits = append(s.commits, *c)
	if c.Trade != nil {
		t := *c.Trade
		t.ID = int64(len(s.trades) + 1)
		s.trades = append(s.trades, t)
	}
	if c.Position != nil {
		var kept []domain.Position
		for _, p := range s.positions[c.AgentID] {
			if p.Symbol != c.Position.Symbol {
				kept = append(kept, p)
			}
		}
		if !c.Position.Closed() {
			kept = append(kept, *c.Position)
		}
		s.positions[c.AgentID] = kept
	}
	return nil
}

func (s *fakeStore) commitsFor(agentID string) []domain.LedgerChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerChange
	for _, c := range s.commits {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return out
}

// --- market data ---

type fakePrices struct {
	points  int
	current map[string]float64
	panicOn string
	failOn  string
}

func (p *fakePrices) History(_ context.Context, symbol string, _ int) ([]float64, error) {
	if symbol == p.panicOn {
		panic("feed exploded")
	}
	if symbol == p.failOn {
		return nil, errors.New("feed down")
	}
	closes := make([]float64, p.points)
	for i := range closes {
		closes[i] = p.current[symbol]
	}
	return closes, nil
}

func (p *fakePrices) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	if v, ok := p.current[symbol]; ok {
		return v, nil
	}
	return 0, errors.New("no quote")
}

type fixedSignals struct{ ind domain.Indicators }

func (s fixedSignals) Generate(string, []float64) domain.Indicators { return s.ind }

type fakeProvider struct {
	decision domain.Decision
	err      error
	calls    int
}

func (p *fakeProvider) Decide(context.Context, ports.DecisionRequest) (domain.Decision, error) {
	p.calls++
	return p.decision, p.err
}

// --- brokers ---

type fakeBroker struct {
	mu     sync.Mutex
	venue  domain.Venue
	live   bool
	result func(symbol string, qty float64, side domain.Side) domain.OrderResult
	orders []float64
}

func (b *fakeBroker) PlaceOrder(_ context.Context, symbol string, qty float64, side domain.Side, _ domain.OrderType) domain.OrderResult {
	b.mu.Lock()
	b.orders = append(b.orders, qty)
	b.mu.Unlock()
	if b.result != nil {
		return b.result(symbol, qty, side)
	}
	return domain.OrderResult{Status: domain.OrderFilled, Venue: b.venue, Symbol: symbol, Side: side, FilledQty: qty}
}
func (b *fakeBroker) GetPositions(context.Context) ([]domain.VenuePosition, error) { return nil, nil }
func (b *fakeBroker) GetAccount(context.Context) (domain.AccountSummary, error) {
	return domain.AccountSummary{}, nil
}
func (b *fakeBroker) IsLive() bool { return b.live }
func (b *fakeBroker) Venue() domain.Venue { return b.venue }

func (b *fakeBroker) orderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

type fixedRouter struct{ broker ports.Broker }

func (r fixedRouter) Route(domain.Agent) ports.Broker { return r.broker }
