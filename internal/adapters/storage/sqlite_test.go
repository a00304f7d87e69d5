package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/pmfund/internal/adapters/storage"
	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Storage = (*storage.SQLiteStorage)(nil)

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *storage.SQLiteStorage) {
	t.Helper()
	require.NoError(t, db.SeedAgents(context.Background(), []domain.Agent{
		{ID: "atlas", Name: "Atlas", Provider: "llm", Venue: domain.VenueKIS, AssetClass: domain.AssetEquity,
			Watchlist: []string{"AAPL", "MSFT"}, Active: true, InitialCapital: 100_000},
		{ID: "satoshi", Name: "Satoshi", Provider: "rule", Venue: domain.VenueBybit, AssetClass: domain.AssetCrypto,
			Watchlist: []string{"BTC-USD"}, Active: true, InitialCapital: 50_000},
		{ID: "dormant", Name: "Dormant", AssetClass: domain.AssetEquity, InitialCapital: 10_000},
	}))
}

func TestSQLiteStorage_SeedAndLoadAgents(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()

	equities, err := db.ActiveAgents(ctx, domain.AssetEquity)
	require.NoError(t, err)
	require.Len(t, equities, 1)
	a := equities[0]
	assert.Equal(t, "atlas", a.ID)
	assert.Equal(t, domain.VenueKIS, a.Venue)
	assert.Equal(t, []string{"AAPL", "MSFT"}, a.Watchlist)
	assert.Equal(t, 100_000.0, a.Capital)
	assert.Equal(t, 100_000.0, a.Cash)
	assert.True(t, a.Active)
	assert.False(t, a.CreatedAt.IsZero())

	all, err := db.ActiveAgents(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStorage_SeedKeepsExistingLedger(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, &domain.LedgerChange{
		AgentID: "atlas", UpdateCapital: true, Cash: 90_000, Capital: 101_000,
	}))
	seed(t, db)

	a, err := db.GetAgent(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, 101_000.0, a.Capital)
	assert.Equal(t, 90_000.0, a.Cash)
}

func TestSQLiteStorage_AgentNotFound(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	_, err := db.GetAgent(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	assert.ErrorIs(t, db.SetAgentActive(ctx, "ghost", true), domain.ErrAgentNotFound)
}

func TestSQLiteStorage_SetAgentActive(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()

	require.NoError(t, db.SetAgentActive(ctx, "atlas", false))
	require.NoError(t, db.SetAgentActive(ctx, "dormant", true))

	equities, err := db.ActiveAgents(ctx, domain.AssetEquity)
	require.NoError(t, err)
	require.Len(t, equities, 1)
	assert.Equal(t, "dormant", equities[0].ID)
}

func TestSQLiteStorage_CommitFill(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	trade := &domain.Trade{
		AgentID: "atlas", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 50, Price: 100,
		Fee: 5, Venue: domain.VenueKIS, Conviction: 0.8, Reasoning: "breakout", ExecutedAt: at,
	}
	err := db.Commit(ctx, &domain.LedgerChange{
		AgentID: "atlas",
		Signal: &domain.Signal{AgentID: "atlas", Symbol: "AAPL", Kind: "composite", Value: 0.7,
			Snapshot: domain.Indicators{RSI: 42, Composite: 0.7}, CreatedAt: at},
		Decision: &domain.DecisionRecord{AgentID: "atlas", Symbol: "AAPL", Action: domain.ActionBuy,
			Conviction: 0.8, Status: domain.StatusExecuted, CreatedAt: at},
		Trade:         trade,
		Position:      &domain.Position{AgentID: "atlas", Symbol: "AAPL", Quantity: 50, AvgCost: 100},
		UpdateCapital: true,
		Cash:          94_995,
		Capital:       99_995,
	})
	require.NoError(t, err)
	assert.NotZero(t, trade.ID)

	positions, err := db.Positions(ctx, "atlas")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 50.0, positions[0].Quantity)

	trades, err := db.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "breakout", trades[0].Reasoning)
	assert.Equal(t, domain.VenueKIS, trades[0].Venue)
	assert.True(t, at.Equal(trades[0].ExecutedAt))

	signals, err := db.RecentSignals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 42.0, signals[0].Snapshot.RSI)

	a, err := db.GetAgent(ctx, "atlas")
	require.NoError(t, err)
	assert.Equal(t, 99_995.0, a.Capital)
	assert.Equal(t, 94_995.0, a.Cash)
}

func TestSQLiteStorage_ClosedPositionIsDeleted(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()

	require.NoError(t, db.Commit(ctx, &domain.LedgerChange{
		AgentID:  "atlas",
		Position: &domain.Position{AgentID: "atlas", Symbol: "AAPL", Quantity: 10, AvgCost: 80},
	}))
	require.NoError(t, db.Commit(ctx, &domain.LedgerChange{
		AgentID:  "atlas",
		Position: &domain.Position{AgentID: "atlas", Symbol: "AAPL", Quantity: 0.0005, AvgCost: 80},
	}))

	positions, err := db.Positions(ctx, "atlas")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestSQLiteStorage_CommitIsAtomic(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()

	err := db.Commit(ctx, &domain.LedgerChange{
		AgentID:       "ghost",
		Trade:         &domain.Trade{AgentID: "ghost", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1, Price: 1, Venue: domain.VenuePaper, ExecutedAt: time.Now()},
		UpdateCapital: true,
		Capital:       1,
	})
	assert.ErrorIs(t, err, domain.ErrAgentNotFound)

	trades, err := db.RecentTrades(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestSQLiteStorage_TradeQueries(t *testing.T) {
	db := newDB(t)
	seed(t, db)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	book := func(side domain.Side, pnl float64, at time.Time) {
		require.NoError(t, db.Commit(ctx, &domain.LedgerChange{
			AgentID: "atlas",
			Trade: &domain.Trade{AgentID: "atlas", Symbol: "AAPL", Side: side, Quantity: 1, Price: 100,
				RealizedPnL: pnl, Venue: domain.VenueKIS, ExecutedAt: at},
		}))
	}
	book(domain.SideSell, -5, day.Add(-2*time.Hour))
	book(domain.SideBuy, 0, day.Add(1*time.Hour))
	book(domain.SideSell, 10, day.Add(2*time.Hour))
	book(domain.SideSell, -3, day.Add(3*time.Hour))

	today, err := db.TradesSince(ctx, "atlas", day)
	require.NoError(t, err)
	require.Len(t, today, 3)
	assert.Equal(t, -3.0, today[0].RealizedPnL)
	assert.Equal(t, domain.SideBuy, today[2].Side)

	sells, err := db.RecentSells(ctx, "atlas", 2)
	require.NoError(t, err)
	require.Len(t, sells, 2)
	assert.Equal(t, -3.0, sells[0].RealizedPnL)
	assert.Equal(t, 10.0, sells[1].RealizedPnL)

	other, err := db.TradesSince(ctx, "satoshi", day)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStorage_RecordNAV(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	first, err := db.RecordNAV(ctx, "equities", 100_000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.PeriodReturn)

	_, err = db.RecordNAV(ctx, "crypto", 10_000)
	require.NoError(t, err)

	second, err := db.RecordNAV(ctx, "equities", 102_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, second.PeriodReturn, 1e-12)
	assert.Greater(t, second.ID, first.ID)

	history, err := db.NAVHistory(ctx, "equities", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 102_000.0, history[0].NAV)
	assert.Equal(t, 100_000.0, history[1].NAV)
}

func TestSQLiteStorage_EmptyCommit(t *testing.T) {
	db := newDB(t)
	assert.NoError(t, db.Commit(context.Background(), &domain.LedgerChange{AgentID: "atlas"}))
}
