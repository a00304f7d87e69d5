package cycle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/pmfund/internal/application/cycle"
	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/alejandrodnm/pmfund/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type harness struct {
	store    *fakeStore
	prices   *fakePrices
	broker   *fakeBroker
	provider *fakeProvider
	signals  fixedSignals
}

func newHarness() *harness {
	return &harness{
		store: newFakeStore(),
		prices: &fakePrices{
			points:  60,
			current: map[string]float64{"AAPL": 100, "SPY": 500, "VIX": 15},
		},
		broker:   &fakeBroker{venue: domain.VenuePaper},
		provider: &fakeProvider{},
	}
}

func (h *harness) runner() *cycle.Runner {
	return cycle.NewRunner(cycle.Config{}, cycle.Deps{
		Store:     h.store,
		Router:    fixedRouter{broker: h.broker},
		Prices:    h.prices,
		Signals:   h.signals,
		Providers: map[string]ports.DecisionProvider{"llm": h.provider},
		Guard:     risk.NewGuard(risk.DefaultConfig()),
	}, cycle.WithSeed(1), cycle.WithClock(func() time.Time { return now }))
}

func testAgent() domain.Agent {
	return domain.Agent{
		ID:             "atlas",
		Provider:       "llm",
		Venue:          domain.VenuePaper,
		AssetClass:     domain.AssetEquity,
		Watchlist:      []string{"AAPL"},
		Active:         true,
		InitialCapital: 100_000,
		Capital:        100_000,
		Cash:           100_000,
	}
}

func buy(conviction, size float64) domain.Decision {
	return domain.Decision{Action: domain.ActionBuy, Conviction: conviction, SizeFraction: size, Reasoning: "test"}
}

func sell(conviction, size float64) domain.Decision {
	return domain.Decision{Action: domain.ActionSell, Conviction: conviction, SizeFraction: size, Reasoning: "test"}
}

func TestRun_BuyExecutes(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)

	res := h.runner().Run(context.Background(), testAgent())

	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.Equal(t, "AAPL", res.Symbol)
	assert.InDelta(t, 50, res.Quantity, 1e-9)
	assert.InDelta(t, 100, res.Price, 1e-9)
	assert.InDelta(t, 100_000, res.Capital, 1e-6)
	assert.Equal(t, []domain.CycleState{
		domain.StateStart, domain.StateSignalComputed, domain.StateDecided,
		domain.StateOrderAttempted, domain.StateSettled,
	}, res.Path)

	commits := h.store.commitsFor("atlas")
	require.Len(t, commits, 1)
	c := commits[0]
	require.NotNil(t, c.Signal)
	require.NotNil(t, c.Decision)
	require.NotNil(t, c.Trade)
	require.NotNil(t, c.Position)
	assert.Equal(t, domain.StatusExecuted, c.Decision.Status)
	assert.Equal(t, domain.SideBuy, c.Trade.Side)
	assert.InDelta(t, 0, c.Trade.Fee, 1e-9)
	assert.InDelta(t, 50, c.Position.Quantity, 1e-9)
	assert.InDelta(t, 100, c.Position.AvgCost, 1e-9)
	assert.True(t, c.UpdateCapital)
	assert.InDelta(t, 95_000, c.Cash, 1e-6)
	assert.InDelta(t, 100_000, c.Capital, 1e-6)
}

func TestRun_NotionalClampedToPositionLimit(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.9, 0.20)

	res := h.runner().Run(context.Background(), testAgent())

	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.InDelta(t, 100, res.Quantity, 1e-9)
}

func TestRun_BuyClampedToCash(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.9, 0.05)
	agent := testAgent()
	agent.Cash = 1_000

	res := h.runner().Run(context.Background(), agent)

	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.InDelta(t, 9.95, res.Quantity, 1e-9)
	assert.GreaterOrEqual(t, h.store.commitsFor("atlas")[0].Cash, 0.0)
}

func TestRun_BuyFeeFitsInCash(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.9, 0.05)
	h.broker.result = func(symbol string, qty float64, side domain.Side) domain.OrderResult {
		return domain.OrderResult{Status: domain.OrderFilled, Venue: domain.VenuePaper, Symbol: symbol, Side: side, FilledQty: qty, FeeRate: 0.001}
	}
	agent := testAgent()
	agent.Cash = 5_000 // exactly the requested notional

	res := h.runner().Run(context.Background(), agent)

	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.InDelta(t, 49.75, res.Quantity, 1e-9)
	assert.InDelta(t, 4.975, res.Fee, 1e-9)
	cash := h.store.commitsFor("atlas")[0].Cash
	assert.GreaterOrEqual(t, cash, 0.0)
	assert.InDelta(t, 5_000-4_975-4.975, cash, 1e-6)
}

func TestRun_BuyZeroSize(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.9, 0)

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, "zero_size", res.Reason)
	assert.Zero(t, h.broker.orderCount())
}

func TestRun_FeeFromRate(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)
	h.broker.result = func(symbol string, qty float64, side domain.Side) domain.OrderResult {
		return domain.OrderResult{Status: domain.OrderFilled, Venue: domain.VenuePaper, Symbol: symbol, Side: side, FilledQty: qty, FeeRate: 0.001}
	}

	res := h.runner().Run(context.Background(), testAgent())

	require.Equal(t, domain.StatusExecuted, res.Status)
	assert.InDelta(t, 5, res.Fee, 1e-9)
	assert.InDelta(t, 94_995, h.store.commitsFor("atlas")[0].Cash, 1e-6)
	assert.InDelta(t, 99_995, res.Capital, 1e-6)
}

func TestRun_VenueFillPriceAndFee(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)
	h.broker.result = func(symbol string, qty float64, side domain.Side) domain.OrderResult {
		return domain.OrderResult{
			Status: domain.OrderFilled, Venue: domain.VenueBybit, Symbol: symbol, Side: side,
			FilledQty: qty, FilledPrice: domain.Float(101), Fee: domain.Float(2.5), FeeRate: 0.1,
		}
	}

	res := h.runner().Run(context.Background(), testAgent())

	require.Equal(t, domain.StatusExecuted, res.Status)
	trade := h.store.commitsFor("atlas")[0].Trade
	assert.InDelta(t, 101, trade.Price, 1e-9)
	assert.InDelta(t, 2.5, trade.Fee, 1e-9)
	assert.Equal(t, domain.VenueBybit, trade.Venue)
	assert.InDelta(t, 100_000-5050-2.5, h.store.commitsFor("atlas")[0].Cash, 1e-6)
	assert.InDelta(t, 100_000-5050-2.5+50*101, res.Capital, 1e-6)
}

func TestRun_MarksOtherPositions(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)
	h.prices.current["MSFT"] = 250
	h.store.positions["atlas"] = []domain.Position{{AgentID: "atlas", Symbol: "MSFT", Quantity: 10, AvgCost: 200}}
	agent := testAgent()
	agent.Cash = 98_000

	res := h.runner().Run(context.Background(), agent)

	require.Equal(t, domain.StatusExecuted, res.Status)
	// 93,000 cash + 50 AAPL @ 100 + 10 MSFT @ 250
	assert.InDelta(t, 100_500, res.Capital, 1e-6)
}

func TestRun_InsufficientHistory(t *testing.T) {
	h := newHarness()
	h.prices.points = 10
	h.provider.decision = buy(0.9, 0.05)

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Contains(t, res.Reason, "insufficient")
	assert.Empty(t, h.store.commitsFor("atlas"))
	assert.Zero(t, h.provider.calls)
	assert.Zero(t, h.broker.orderCount())
	assert.Equal(t, 100_000.0, res.Capital)
}

func TestRun_EmptyWatchlist(t *testing.T) {
	h := newHarness()
	agent := testAgent()
	agent.Watchlist = nil

	res := h.runner().Run(context.Background(), agent)

	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Empty(t, h.store.commitsFor("atlas"))
}

func TestRun_LowConvictionHolds(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.3, 0.05)

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusHold, res.Status)
	assert.Equal(t, domain.ActionHold, res.Action)
	assert.Equal(t, domain.StateSkipped, res.Last())
	assert.Zero(t, h.broker.orderCount())

	commits := h.store.commitsFor("atlas")
	require.Len(t, commits, 1)
	assert.NotNil(t, commits[0].Signal)
	require.NotNil(t, commits[0].Decision)
	assert.Equal(t, domain.StatusHold, commits[0].Decision.Status)
	assert.Nil(t, commits[0].Trade)
	assert.False(t, commits[0].UpdateCapital)
}

func TestRun_SellWithoutPosition(t *testing.T) {
	h := newHarness()
	h.provider.decision = sell(0.8, 0.05)

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusSkipped, res.Status)
	assert.Equal(t, "no_position", res.Reason)
	assert.Zero(t, h.broker.orderCount())
	require.Len(t, h.store.commitsFor("atlas"), 1)
	assert.Nil(t, h.store.commitsFor("atlas")[0].Trade)
}

func TestRun_SellClampedToHolding(t *testing.T) {
	h := newHarness()
	h.provider.decision = sell(0.8, 0.05)
	h.store.positions["atlas"] = []domain.Position{{AgentID: "atlas", Symbol: "AAPL", Quantity: 10, AvgCost: 80}}
	agent := testAgent()
	agent.Cash = 99_200
	agent.Capital = 100_200

	res := h.runner().Run(context.Background(), agent)

	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.Equal(t, []float64{10}, h.broker.orders)

	c := h.store.commitsFor("atlas")[0]
	assert.Equal(t, domain.SideSell, c.Trade.Side)
	assert.InDelta(t, 10, c.Trade.Quantity, 1e-9)
	assert.InDelta(t, 200, c.Trade.RealizedPnL, 1e-9)
	assert.True(t, c.Position.Closed())
	assert.InDelta(t, 100_200, c.Cash, 1e-6)
	assert.InDelta(t, 100_200, res.Capital, 1e-6)
	assert.Empty(t, h.store.positions["atlas"])
}

func TestRun_LiveRiskBlocked(t *testing.T) {
	h := newHarness()
	h.broker.live = true
	h.broker.venue = domain.VenueKIS
	h.provider.decision = buy(0.8, 0.05)
	for i := 0; i < 5; i++ {
		h.store.trades = append(h.store.trades, domain.Trade{
			ID: int64(i + 1), AgentID: "atlas", Symbol: "AAPL", Side: domain.SideSell,
			Quantity: 1, Price: 99, RealizedPnL: -10, ExecutedAt: now.Add(-time.Duration(5-i) * time.Hour),
		})
	}

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusRiskBlocked, res.Status)
	assert.Contains(t, res.Reason, "consecutive")
	assert.Contains(t, res.Reason, domain.ErrRiskBlocked.Error())
	assert.Equal(t, domain.StateRiskBlocked, res.Last())
	assert.True(t, res.Live)
	assert.Zero(t, h.broker.orderCount())

	commits := h.store.commitsFor("atlas")
	require.Len(t, commits, 1)
	assert.Equal(t, domain.StatusRiskBlocked, commits[0].Decision.Status)
	assert.Nil(t, commits[0].Trade)
}

func TestRun_SimulatedBypassesRisk(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)
	for i := 0; i < 5; i++ {
		h.store.trades = append(h.store.trades, domain.Trade{
			AgentID: "atlas", Side: domain.SideSell, RealizedPnL: -10, ExecutedAt: now.Add(-time.Hour),
		})
	}

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusExecuted, res.Status)
}

func TestRun_BrokerRejectedOrFailed(t *testing.T) {
	tests := []struct {
		name   string
		result domain.OrderResult
		want   domain.CycleStatus
	}{
		{"rejected", domain.Rejected(domain.VenuePaper, "insufficient buying power"), domain.StatusRejected},
		{"error", domain.Failed(domain.VenuePaper, errors.New("timeout")), domain.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.provider.decision = buy(0.8, 0.05)
			h.broker.result = func(string, float64, domain.Side) domain.OrderResult { return tt.result }

			res := h.runner().Run(context.Background(), testAgent())

			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.result.Reason, res.Reason)
			assert.Equal(t, 100_000.0, res.Capital)

			commits := h.store.commitsFor("atlas")
			require.Len(t, commits, 1)
			assert.NotNil(t, commits[0].Signal)
			assert.NotNil(t, commits[0].Decision)
			assert.Nil(t, commits[0].Trade)
			assert.Nil(t, commits[0].Position)
			assert.False(t, commits[0].UpdateCapital)
		})
	}
}

func TestRun_ProviderFailureFallsBackToRules(t *testing.T) {
	h := newHarness()
	h.provider.err = errors.New("rate limited")
	h.signals = fixedSignals{ind: domain.Indicators{RSI: 55, Composite: 0.8}}

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, 1, h.provider.calls)
	require.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
	assert.Equal(t, domain.ActionBuy, res.Action)
	assert.InDelta(t, 0.9, res.Conviction, 1e-9)
	assert.InDelta(t, 30, res.Quantity, 1e-9)
}

func TestRun_RuleBasedSkipsProvider(t *testing.T) {
	h := newHarness()
	h.provider.decision = sell(1, 1)
	h.signals = fixedSignals{ind: domain.Indicators{RSI: 50, Composite: 0.1}}
	agent := testAgent()
	agent.Provider = domain.ProviderRuleBased

	res := h.runner().Run(context.Background(), agent)

	assert.Zero(t, h.provider.calls)
	assert.Equal(t, domain.StatusHold, res.Status)
}

func TestRun_CommitFailure(t *testing.T) {
	h := newHarness()
	h.provider.decision = buy(0.8, 0.05)
	h.store.commitErr = errors.New("disk full")

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Reason, "disk full")
	assert.Equal(t, 100_000.0, res.Capital)
	assert.Equal(t, 1, h.broker.orderCount())
}

func TestRun_HistoryError(t *testing.T) {
	h := newHarness()
	h.prices.failOn = "AAPL"

	res := h.runner().Run(context.Background(), testAgent())

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.StateSettled, res.Path[len(res.Path)-1])
	assert.Empty(t, h.store.commitsFor("atlas"))
}

func TestRunAll_PanicIsIsolated(t *testing.T) {
	h := newHarness()
	h.prices.panicOn = "BOOM"
	h.signals = fixedSignals{ind: domain.Indicators{RSI: 55, Composite: 0.8}}

	broken := testAgent()
	broken.ID = "broken"
	broken.Provider = domain.ProviderRuleBased
	broken.Watchlist = []string{"BOOM"}
	healthy := testAgent()
	healthy.ID = "healthy"
	healthy.Provider = domain.ProviderRuleBased

	results := h.runner().RunAll(context.Background(), []domain.Agent{broken, healthy})

	require.Len(t, results, 2)
	assert.Equal(t, "broken", results[0].AgentID)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.Contains(t, results[0].Reason, "panic")
	assert.Equal(t, 100_000.0, results[0].Capital)
	assert.Equal(t, "healthy", results[1].AgentID)
	assert.Equal(t, domain.StatusExecuted, results[1].Status)
	assert.Empty(t, h.store.commitsFor("broken"))
	assert.Len(t, h.store.commitsFor("healthy"), 1)
}

// barrierBroker fills an order only once n orders are in flight at the same time.
type barrierBroker struct {
	n int

	mu      sync.Mutex
	arrived int
	all     chan struct{}
}

func (b *barrierBroker) PlaceOrder(_ context.Context, symbol string, qty float64, side domain.Side, _ domain.OrderType) domain.OrderResult {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.all)
	}
	b.mu.Unlock()

	select {
	case <-b.all:
		return domain.OrderResult{Status: domain.OrderFilled, Venue: domain.VenuePaper, Symbol: symbol, Side: side, FilledQty: qty}
	case <-time.After(2 * time.Second):
		return domain.Failed(domain.VenuePaper, errors.New("cycles did not overlap"))
	}
}
func (b *barrierBroker) GetPositions(context.Context) ([]domain.VenuePosition, error) { return nil, nil }
func (b *barrierBroker) GetAccount(context.Context) (domain.AccountSummary, error) {
	return domain.AccountSummary{}, nil
}
func (b *barrierBroker) IsLive() bool { return false }
func (b *barrierBroker) Venue() domain.Venue { return domain.VenuePaper }

func TestRunAll_CyclesRunConcurrently(t *testing.T) {
	const n = 4
	h := newHarness()
	h.signals = fixedSignals{ind: domain.Indicators{RSI: 55, Composite: 0.8}}
	b := &barrierBroker{n: n, all: make(chan struct{})}

	r := cycle.NewRunner(cycle.Config{MaxParallelCycles: n}, cycle.Deps{
		Store:   h.store,
		Router:  fixedRouter{broker: b},
		Prices:  h.prices,
		Signals: h.signals,
	}, cycle.WithSeed(1), cycle.WithClock(func() time.Time { return now }))

	agents := make([]domain.Agent, n)
	for i := range agents {
		agents[i] = testAgent()
		agents[i].ID = fmt.Sprintf("pm%d", i)
		agents[i].Provider = domain.ProviderRuleBased
	}

	results := r.RunAll(context.Background(), agents)

	require.Len(t, results, n)
	for i, res := range results {
		assert.Equal(t, agents[i].ID, res.AgentID)
		assert.Equal(t, domain.StatusExecuted, res.Status, res.Reason)
		assert.Len(t, h.store.commitsFor(res.AgentID), 1)
	}
}
