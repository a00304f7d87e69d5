package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

const agentColumns = `id, name, strategy, provider, venue, asset_class, watchlist,
	active, initial_capital, capital, cash, created_at`

// SeedAgents inserts agents that do not exist yet. Existing rows keep their
// ledger; only the first start takes capital from config.
func (s *SQLiteStorage) SeedAgents(ctx context.Context, agents []domain.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SeedAgents: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	for _, a := range agents {
		watchlist, err := json.Marshal(a.Watchlist)
		if err != nil {
			return fmt.Errorf("storage.SeedAgents: watchlist %s: %w", a.ID, err)
		}
		capital := a.Capital
		if capital == 0 {
			capital = a.InitialCapital
		}
		cash := a.Cash
		if cash == 0 {
			cash = capital
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, a.Strategy, a.Provider, string(a.Venue), string(a.AssetClass),
			string(watchlist), a.Active, a.InitialCapital, capital, cash, now,
		); err != nil {
			return fmt.Errorf("storage.SeedAgents: insert %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SeedAgents: commit: %w", err)
	}
	return nil
}

// ActiveAgents returns the active agents of class, ordered by id. An empty
// class returns every active agent.
func (s *SQLiteStorage) ActiveAgents(ctx context.Context, class domain.AssetClass) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE active = 1 AND (? = '' OR asset_class = ?)
		ORDER BY id`, string(class), string(class))
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveAgents: query: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ActiveAgents: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// GetAgent returns one agent by id, active or not.
func (s *SQLiteStorage) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, fmt.Errorf("storage.GetAgent: %s: %w", id, domain.ErrAgentNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("storage.GetAgent: %w", err)
	}
	return a, nil
}

// SetAgentActive activates or deactivates an agent.
func (s *SQLiteStorage) SetAgentActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("storage.SetAgentActive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.SetAgentActive: %s: %w", id, domain.ErrAgentNotFound)
	}
	return nil
}

func scanAgent(r rowScanner) (domain.Agent, error) {
	var (
		a                       domain.Agent
		venue, class, watchlist string
		createdAt               string
	)
	if err := r.Scan(&a.ID, &a.Name, &a.Strategy, &a.Provider, &venue, &class, &watchlist,
		&a.Active, &a.InitialCapital, &a.Capital, &a.Cash, &createdAt); err != nil {
		return domain.Agent{}, err
	}
	a.Venue = domain.Venue(venue)
	a.AssetClass = domain.AssetClass(class)
	a.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(watchlist), &a.Watchlist); err != nil {
		return domain.Agent{}, fmt.Errorf("watchlist %s: %w", a.ID, err)
	}
	return a, nil
}
