package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

const tradeColumns = `id, agent_id, symbol, side, quantity, price, fee, venue,
	realized_pnl, conviction, reasoning, executed_at`

// Commit applies one cycle's staged writes in a single transaction: all of
// them land or none do. A closed position is deleted.
func (s *SQLiteStorage) Commit(ctx context.Context, c *domain.LedgerChange) error {
	if c.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Commit: begin tx: %w", err)
	}
	defer tx.Rollback()

	if c.Signal != nil {
		if err := insertSignal(ctx, tx, c.Signal); err != nil {
			return fmt.Errorf("storage.Commit: signal: %w", err)
		}
	}
	if c.Decision != nil {
		if err := insertDecision(ctx, tx, c.Decision); err != nil {
			return fmt.Errorf("storage.Commit: decision: %w", err)
		}
	}
	if c.Trade != nil {
		id, err := insertTrade(ctx, tx, c.Trade)
		if err != nil {
			return fmt.Errorf("storage.Commit: trade: %w", err)
		}
		c.Trade.ID = id
	}
	if c.Position != nil {
		if err := writePosition(ctx, tx, c.AgentID, c.Position, s.now()); err != nil {
			return fmt.Errorf("storage.Commit: position %s: %w", c.Position.Symbol, err)
		}
	}
	if c.UpdateCapital {
		res, err := tx.ExecContext(ctx,
			`UPDATE agents SET cash = ?, capital = ? WHERE id = ?`,
			c.Cash, max(c.Capital, 0), c.AgentID)
		if err != nil {
			return fmt.Errorf("storage.Commit: capital: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage.Commit: %s: %w", c.AgentID, domain.ErrAgentNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.Commit: commit: %w", err)
	}
	return nil
}

func insertSignal(ctx context.Context, tx *sql.Tx, sig *domain.Signal) error {
	snapshot, err := json.Marshal(sig.Snapshot)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO signals (agent_id, symbol, kind, value, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.AgentID, sig.Symbol, sig.Kind, sig.Value, string(snapshot), formatTime(sig.CreatedAt))
	return err
}

func insertDecision(ctx context.Context, tx *sql.Tx, d *domain.DecisionRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (agent_id, symbol, action, conviction, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.AgentID, d.Symbol, string(d.Action), d.Conviction, string(d.Status), d.Reason, formatTime(d.CreatedAt))
	return err
}

func insertTrade(ctx context.Context, tx *sql.Tx, t *domain.Trade) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO trades (agent_id, symbol, side, quantity, price, fee, venue,
		                    realized_pnl, conviction, reasoning, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AgentID, t.Symbol, string(t.Side), t.Quantity, t.Price, t.Fee, string(t.Venue),
		t.RealizedPnL, t.Conviction, t.Reasoning, formatTime(t.ExecutedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func writePosition(ctx context.Context, tx *sql.Tx, agentID string, p *domain.Position, now time.Time) error {
	if p.Closed() {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM positions WHERE agent_id = ? AND symbol = ?`, agentID, p.Symbol)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (agent_id, symbol, quantity, avg_cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, symbol) DO UPDATE SET
			quantity   = excluded.quantity,
			avg_cost   = excluded.avg_cost,
			updated_at = excluded.updated_at`,
		agentID, p.Symbol, p.Quantity, p.AvgCost, formatTime(now))
	return err
}

// Positions returns the agent's open positions ordered by symbol.
func (s *SQLiteStorage) Positions(ctx context.Context, agentID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, symbol, quantity, avg_cost FROM positions
		WHERE agent_id = ? ORDER BY symbol`, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage.Positions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.AgentID, &p.Symbol, &p.Quantity, &p.AvgCost); err != nil {
			return nil, fmt.Errorf("storage.Positions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TradesSince returns the agent's trades executed at or after since, newest first.
func (s *SQLiteStorage) TradesSince(ctx context.Context, agentID string, since time.Time) ([]domain.Trade, error) {
	trades, err := s.queryTrades(ctx, `
		WHERE agent_id = ? AND executed_at >= ?
		ORDER BY executed_at DESC, id DESC`, agentID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("storage.TradesSince: %w", err)
	}
	return trades, nil
}

// RecentSells returns the agent's last limit sells, newest first.
func (s *SQLiteStorage) RecentSells(ctx context.Context, agentID string, limit int) ([]domain.Trade, error) {
	trades, err := s.queryTrades(ctx, `
		WHERE agent_id = ? AND side = ?
		ORDER BY executed_at DESC, id DESC LIMIT ?`, agentID, string(domain.SideSell), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentSells: %w", err)
	}
	return trades, nil
}

// RecentTrades returns the last limit trades across all agents, newest first.
func (s *SQLiteStorage) RecentTrades(ctx context.Context, limit int) ([]domain.Trade, error) {
	trades, err := s.queryTrades(ctx, `ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentTrades: %w", err)
	}
	return trades, nil
}

func (s *SQLiteStorage) queryTrades(ctx context.Context, tail string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                       domain.Trade
			side, venue, executedAt string
			reasoning               sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Fee,
			&venue, &t.RealizedPnL, &t.Conviction, &reasoning, &executedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.Side = domain.Side(side)
		t.Venue = domain.Venue(venue)
		t.Reasoning = reasoning.String
		t.ExecutedAt = parseTime(executedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentSignals returns the last limit signals across all agents, newest first.
func (s *SQLiteStorage) RecentSignals(ctx context.Context, limit int) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, symbol, kind, value, snapshot, created_at FROM signals
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentSignals: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var (
			sig                 domain.Signal
			snapshot, createdAt string
		)
		if err := rows.Scan(&sig.ID, &sig.AgentID, &sig.Symbol, &sig.Kind, &sig.Value, &snapshot, &createdAt); err != nil {
			return nil, fmt.Errorf("storage.RecentSignals: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &sig.Snapshot); err != nil {
			return nil, fmt.Errorf("storage.RecentSignals: snapshot %d: %w", sig.ID, err)
		}
		sig.CreatedAt = parseTime(createdAt)
		out = append(out, sig)
	}
	return out, rows.Err()
}
