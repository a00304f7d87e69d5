// Package cycle runs the per-agent trading cycle: signal, decision, risk gate,
// order and ledger update.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/alejandrodnm/pmfund/internal/risk"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMinHistory        = 20
	DefaultHistoryDays       = 60
	DefaultMaxParallelCycles = 8

	// buys clamped to cash keep this fraction back for fees
	cashFeeBuffer = 0.005
)

// Config holds the cycle thresholds.
type Config struct {
	MinConviction     float64
	MinHistory        int
	HistoryDays       int
	MaxParallelCycles int
}

// Deps are the collaborators of a Runner. Providers maps an agent's provider
// selector to its decision provider; unknown selectors use the rule fallback.
type Deps struct {
	Store     ports.Storage
	Router    ports.BrokerRouter
	Prices    ports.PriceProvider
	Signals   ports.SignalGenerator
	Providers map[string]ports.DecisionProvider
	Guard     *risk.Guard
}

// Runner executes agent cycles. It is safe for concurrent use.
type Runner struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Runner.
type Option func(*Runner)

// WithSeed makes symbol selection reproducible.
func WithSeed(seed uint64) Option {
	return func(r *Runner) { r.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithClock overrides the time source used for timestamps and the risk day.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner, filling unset thresholds with defaults.
func NewRunner(cfg Config, deps Deps, opts ...Option) *Runner {
	if cfg.MinConviction <= 0 {
		cfg.MinConviction = domain.DefaultMinConviction
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = DefaultMinHistory
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = DefaultHistoryDays
	}
	if cfg.MaxParallelCycles <= 0 {
		cfg.MaxParallelCycles = DefaultMaxParallelCycles
	}
	if deps.Guard == nil {
		deps.Guard = risk.NewGuard(risk.DefaultConfig())
	}
	r := &Runner{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunAll runs one cycle per agent concurrently, at most MaxParallelCycles at
// a time, and returns once every cycle has settled. Results keep agent order.
func (r *Runner) RunAll(ctx context.Context, agents []domain.Agent) []domain.CycleResult {
	results := make([]domain.CycleResult, len(agents))
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxParallelCycles)
	for i, agent := range agents {
		g.Go(func() error {
			results[i] = r.Run(ctx, agent)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run executes one cycle for agent. It never panics and never returns an
// error: every failure is folded into a result with StatusError, and the
// staged ledger writes of a failed cycle are discarded.
func (r *Runner) Run(ctx context.Context, agent domain.Agent) (res domain.CycleResult) {
	started := time.Now()
	res = domain.CycleResult{
		AgentID: agent.ID,
		Capital: agent.Capital,
		Path:    []domain.CycleState{domain.StateStart},
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("cycle panic", "agent", agent.ID, "panic", p, "stack", string(debug.Stack()))
			res.Status = domain.StatusError
			res.Reason = fmt.Sprintf("panic: %v", p)
			res.Capital = agent.Capital
		}
		res.Path = append(res.Path, domain.StateSettled)
		res.Duration = time.Since(started)
		logResult(res)
	}()

	if err := r.run(ctx, agent, &res); err != nil {
		res.Status = domain.StatusError
		res.Reason = err.Error()
		res.Capital = agent.Capital
	}
	return res
}

// run walks the state machine. A returned error means nothing was committed.
func (r *Runner) run(ctx context.Context, agent domain.Agent, res *domain.CycleResult) error {
	broker := r.deps.Router.Route(agent)
	res.Venue = broker.Venue()
	res.Live = broker.IsLive()

	if len(agent.Watchlist) == 0 {
		r.skip(res, "empty watchlist")
		return nil
	}
	symbol := r.pick(agent.Watchlist)
	res.Symbol = symbol

	closes, err := r.deps.Prices.History(ctx, symbol, r.cfg.HistoryDays)
	if err != nil {
		return fmt.Errorf("cycle.run: history %s: %w", symbol, err)
	}
	if len(closes) < r.cfg.MinHistory {
		r.skip(res, fmt.Sprintf("%s: %d points < %d", domain.ErrInsufficientData, len(closes), r.cfg.MinHistory))
		return nil
	}

	now := r.now()
	ind := r.deps.Signals.Generate(symbol, closes)
	res.Composite = ind.Composite
	res.Path = append(res.Path, domain.StateSignalComputed)

	change := &domain.LedgerChange{
		AgentID: agent.ID,
		Signal: &domain.Signal{
			AgentID:   agent.ID,
			Symbol:    symbol,
			Kind:      "composite",
			Value:     ind.Composite,
			Snapshot:  ind,
			CreatedAt: now,
		},
	}

	price, err := r.deps.Prices.CurrentPrice(ctx, symbol)
	if err != nil || price <= 0 {
		price = closes[len(closes)-1]
	}

	decision := r.decide(ctx, agent, symbol, ind, price)
	res.Action = decision.Action
	res.Conviction = decision.Conviction
	res.Path = append(res.Path, domain.StateDecided)

	settle := func(status domain.CycleStatus, reason string) error {
		res.Status = status
		res.Reason = reason
		change.Decision = &domain.DecisionRecord{
			AgentID:    agent.ID,
			Symbol:     symbol,
			Action:     decision.Action,
			Conviction: decision.Conviction,
			Status:     status,
			Reason:     reason,
			CreatedAt:  now,
		}
		if err := r.deps.Store.Commit(ctx, change); err != nil {
			return fmt.Errorf("cycle.run: commit: %w", err)
		}
		return nil
	}

	if !decision.Actionable() {
		res.Path = append(res.Path, domain.StateSkipped)
		return settle(domain.StatusHold, decision.Reasoning)
	}

	positions, err := r.deps.Store.Positions(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("cycle.run: positions: %w", err)
	}
	held := findPosition(positions, agent.ID, symbol)

	qty, reason := r.size(agent, decision, held, price)
	if qty <= 0 {
		res.Path = append(res.Path, domain.StateSkipped)
		return settle(domain.StatusSkipped, reason)
	}

	if broker.IsLive() {
		history, err := r.riskHistory(ctx, agent.ID, now)
		if err != nil {
			return fmt.Errorf("cycle.run: risk history: %w", err)
		}
		if ok, why := r.deps.Guard.Check(agent, decision.Action, qty*price, history, now); !ok {
			res.Path = append(res.Path, domain.StateRiskBlocked)
			return settle(domain.StatusRiskBlocked, fmt.Sprintf("%s: %s", domain.ErrRiskBlocked, why))
		}
	}

	res.Path = append(res.Path, domain.StateOrderAttempted)
	order := broker.PlaceOrder(ctx, symbol, qty, decision.Side(), domain.OrderMarket)
	switch {
	case order.Status == domain.OrderRejected:
		slog.Warn("order rejected", "agent", agent.ID, "symbol", symbol, "venue", order.Venue, "reason", order.Reason)
		return settle(domain.StatusRejected, order.Reason)
	case !order.Filled():
		slog.Error("order failed", "agent", agent.ID, "symbol", symbol, "venue", order.Venue, "reason", order.Reason)
		return settle(domain.StatusError, order.Reason)
	}

	fill := r.applyFill(ctx, agent, positions, held, decision, order, price, now)
	change.Trade = &fill.trade
	change.Position = &fill.position
	change.UpdateCapital = true
	change.Cash = fill.cash
	change.Capital = fill.capital

	res.Quantity = fill.trade.Quantity
	res.Price = fill.trade.Price
	res.Fee = fill.trade.Fee
	if err := settle(domain.StatusExecuted, decision.Reasoning); err != nil {
		slog.Error("fill not booked", "agent", agent.ID, "symbol", symbol, "venue", order.Venue,
			"order_id", order.VenueOrderID, "err", err)
		return err
	}
	res.Capital = fill.capital
	return nil
}

func (r *Runner) skip(res *domain.CycleResult, reason string) {
	res.Status = domain.StatusSkipped
	res.Reason = reason
	res.Path = append(res.Path, domain.StateSkipped)
}

func (r *Runner) pick(symbols []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return symbols[r.rng.IntN(len(symbols))]
}

// decide consults the agent's provider, falling back to RuleDecision on
// failure, and applies the conviction floor.
func (r *Runner) decide(ctx context.Context, agent domain.Agent, symbol string, ind domain.Indicators, price float64) domain.Decision {
	decision := RuleDecision(ind)
	if provider, ok := r.deps.Providers[agent.Provider]; ok && !agent.RuleBased() {
		d, err := provider.Decide(ctx, ports.DecisionRequest{
			AgentID:  agent.ID,
			Provider: agent.Provider,
			Symbol:   symbol,
			Signals:  ind,
			Context:  r.marketContext(ctx, price),
		})
		if err != nil {
			slog.Warn("decision provider failed, using rules", "agent", agent.ID, "provider", agent.Provider, "err", err)
		} else {
			decision = d
		}
	}
	return decision.Normalize(r.cfg.MinConviction)
}

func (r *Runner) marketContext(ctx context.Context, price float64) domain.MarketContext {
	spy, err := r.deps.Prices.CurrentPrice(ctx, "SPY")
	if err != nil {
		spy = 0
	}
	vix, err := r.deps.Prices.CurrentPrice(ctx, "VIX")
	if err != nil || vix <= 0 {
		vix = 15
	}
	return domain.MarketContext{SPY: spy, VIX: vix, Regime: domain.RegimeFor(vix), CurrentPrice: price}
}

// size turns a decision into an order quantity. The notional is clamped to
// the position limit, buys to available cash and sells to the held quantity.
// A zero quantity comes with the reason nothing can be traded.
func (r *Runner) size(agent domain.Agent, d domain.Decision, held domain.Position, price float64) (float64, string) {
	if price <= 0 {
		return 0, "no price"
	}
	notional := agent.Capital * d.SizeFraction
	if limit := r.deps.Guard.MaxNotional(agent); notional > limit {
		slog.Debug("sizing clamp", "agent", agent.ID, "requested", notional, "limit", limit)
		notional = limit
	}

	if d.Action == domain.ActionSell {
		if held.Closed() {
			return 0, "no_position"
		}
		if notional <= 0 {
			return 0, "zero_size"
		}
		return min(notional/price, held.Quantity), ""
	}

	if notional <= 0 {
		return 0, "zero_size"
	}
	// notional + fee must fit in cash
	if spendable := agent.Cash * (1 - cashFeeBuffer); notional > spendable {
		slog.Debug("sizing clamp to cash", "agent", agent.ID, "requested", notional, "cash", agent.Cash)
		notional = spendable
	}
	if notional <= 0 {
		return 0, "insufficient_cash"
	}
	return notional / price, ""
}

// riskHistory merges today's trades with the latest sells so the guard sees
// both the daily loss and the full loss streak.
func (r *Runner) riskHistory(ctx context.Context, agentID string, now time.Time) ([]domain.Trade, error) {
	today, err := r.deps.Store.TradesSince(ctx, agentID, risk.StartOfDay(now))
	if err != nil {
		return nil, err
	}
	sells, err := r.deps.Store.RecentSells(ctx, agentID, r.deps.Guard.Config().MaxConsecutiveLosses)
	if err != nil {
		return nil, err
	}
	return risk.MergeHistory(today, sells), nil
}

func findPosition(positions []domain.Position, agentID, symbol string) domain.Position {
	for _, p := range positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return domain.Position{AgentID: agentID, Symbol: symbol}
}

func logResult(res domain.CycleResult) {
	attrs := []any{
		"agent", res.AgentID, "symbol", res.Symbol, "status", res.Status,
		"action", res.Action, "venue", res.Venue, "live", res.Live,
		"capital", res.Capital, "duration", res.Duration,
	}
	if res.Reason != "" {
		attrs = append(attrs, "reason", res.Reason)
	}
	switch res.Status {
	case domain.StatusError:
		slog.Error("cycle settled", attrs...)
	case domain.StatusExecuted:
		slog.Info("cycle settled", append(attrs, "qty", res.Quantity, "price", res.Price)...)
	default:
		slog.Debug("cycle settled", attrs...)
	}
}
