package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// RecordNAV añade un punto de NAV al libro. El retorno del periodo se calcula
// contra el registro previo del mismo libro (0 para el primero).
func (s *SQLiteStorage) RecordNAV(ctx context.Context, book string, nav float64) (domain.NAVRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NAVRecord{}, fmt.Errorf("storage.RecordNAV: begin tx: %w", err)
	}
	defer tx.Rollback()

	rec := domain.NAVRecord{Book: book, NAV: nav, RecordedAt: s.now().UTC()}

	var prev float64
	err = tx.QueryRowContext(ctx,
		`SELECT nav FROM nav_history WHERE book = ? ORDER BY id DESC LIMIT 1`, book,
	).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.NAVRecord{}, fmt.Errorf("storage.RecordNAV: prior: %w", err)
	case prev > 0:
		rec.PeriodReturn = (nav - prev) / prev
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO nav_history (book, nav, period_return, recorded_at)
		VALUES (?, ?, ?, ?)`,
		rec.Book, rec.NAV, rec.PeriodReturn, formatTime(rec.RecordedAt))
	if err != nil {
		return domain.NAVRecord{}, fmt.Errorf("storage.RecordNAV: insert: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return domain.NAVRecord{}, fmt.Errorf("storage.RecordNAV: id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.NAVRecord{}, fmt.Errorf("storage.RecordNAV: commit: %w", err)
	}
	return rec, nil
}

// NAVHistory devuelve los últimos limit puntos del libro, del más reciente al más antiguo.
func (s *SQLiteStorage) NAVHistory(ctx context.Context, book string, limit int) ([]domain.NAVRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book, nav, period_return, recorded_at FROM nav_history
		WHERE book = ? ORDER BY id DESC LIMIT ?`, book, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.NAVHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.NAVRecord
	for rows.Next() {
		var (
			rec        domain.NAVRecord
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Book, &rec.NAV, &rec.PeriodReturn, &recordedAt); err != nil {
			return nil, fmt.Errorf("storage.NAVHistory: scan: %w", err)
		}
		rec.RecordedAt = parseTime(recordedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
