package storage

// sqlite.go: persistencia del fondo en SQLite.
//
// Tablas:
//   agents: un PM por fila (capital, cash, watchlist, venue)
//   positions: (agent, symbol) → cantidad y coste medio
//   trades: fills ejecutados, append-only
//   signals: score compuesto + snapshot de indicadores, append-only
//   decisions: cómo terminó cada ciclo (incluye bloqueos de riesgo)
//   nav_history: un punto de NAV por tick y por libro
//
// Cada ciclo escribe en una sola transacción (Commit). La conexión es única:
// SQLite serializa las escrituras y nadie retiene la DB durante llamadas de red.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    strategy        TEXT NOT NULL DEFAULT '',
    provider        TEXT NOT NULL DEFAULT 'rule',
    venue           TEXT NOT NULL DEFAULT 'paper',
    asset_class     TEXT NOT NULL DEFAULT 'equity',
    watchlist       TEXT NOT NULL DEFAULT '[]',
    active          INTEGER NOT NULL DEFAULT 1,
    initial_capital REAL NOT NULL,
    capital         REAL NOT NULL CHECK (capital >= 0),
    cash            REAL NOT NULL,
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    agent_id  TEXT NOT NULL REFERENCES agents(id),
    symbol    TEXT NOT NULL,
    quantity  REAL NOT NULL,
    avg_cost  REAL NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (agent_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id     TEXT NOT NULL REFERENCES agents(id),
    symbol       TEXT NOT NULL,
    side         TEXT NOT NULL,
    quantity     REAL NOT NULL,
    price        REAL NOT NULL,
    fee          REAL NOT NULL DEFAULT 0,
    venue        TEXT NOT NULL,
    realized_pnl REAL NOT NULL DEFAULT 0,
    conviction   REAL NOT NULL DEFAULT 0,
    reasoning    TEXT,
    executed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id   TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    value      REAL NOT NULL,
    snapshot   TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id   TEXT NOT NULL,
    symbol     TEXT NOT NULL,
    action     TEXT NOT NULL,
    conviction REAL NOT NULL,
    status     TEXT NOT NULL,
    reason     TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nav_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    book          TEXT NOT NULL,
    nav           REAL NOT NULL,
    period_return REAL NOT NULL DEFAULT 0,
    recorded_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_agent_at ON trades(agent_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_side     ON trades(agent_id, side, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_at      ON signals(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_at    ON decisions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_nav_book        ON nav_history(book, id DESC);
`

const (
	// signals y decisions son diagnóstico: se podan. trades y nav nunca.
	retentionSignals = 30 * 24 * time.Hour

	// timeLayout es de ancho fijo para que el orden lexicográfico sea cronológico.
	timeLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y poda el diagnóstico antiguo.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina señales y decisiones antiguas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := formatTime(s.now().Add(-retentionSignals))
	for _, table := range []string{"signals", "decisions"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, cutoff); err != nil {
			slog.Warn("prune failed", "table", table, "err", err)
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

// rowScanner cubre *sql.Row y *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
