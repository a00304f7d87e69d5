package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// Storage persists agents, ledgers and the NAV series.
type Storage interface {
	// ActiveAgents returns active agents of the given asset class ("" = all).
	ActiveAgents(ctx context.Context, class domain.AssetClass) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	SeedAgents(ctx context.Context, agents []domain.Agent) error
	SetAgentActive(ctx context.Context, id string, active bool) error

	Positions(ctx context.Context, agentID string) ([]domain.Position, error)

	// TradesSince returns the agent's trades executed at or after since, newest first.
	TradesSince(ctx context.Context, agentID string, since time.Time) ([]domain.Trade, error)
	// RecentSells returns the agent's last limit SELL trades, newest first.
	RecentSells(ctx context.Context, agentID string, limit int) ([]domain.Trade, error)

	// Commit applies a cycle's unit of work atomically.
	Commit(ctx context.Context, change *domain.LedgerChange) error

	// RecordNAV appends a NAV point for book, computing the period return
	// against the prior record of the same book.
	RecordNAV(ctx context.Context, book string, nav float64) (domain.NAVRecord, error)
	NAVHistory(ctx context.Context, book string, limit int) ([]domain.NAVRecord, error)

	RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error)
	RecentSignals(ctx context.Context, limit int) ([]domain.Signal, error)

	Close() error
}
