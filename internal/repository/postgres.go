package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// AttemptSchema creates the attempt log table.
const AttemptSchema = `
CREATE TABLE IF NOT EXISTS completion_attempts (
	id          BIGSERIAL PRIMARY KEY,
	call_id     UUID        NOT NULL,
	session_id  TEXT        NOT NULL DEFAULT '',
	roster      TEXT        NOT NULL,
	model       TEXT        NOT NULL,
	key_index   INTEGER     NOT NULL,
	round       INTEGER     NOT NULL,
	attempt     INTEGER     NOT NULL,
	outcome     TEXT        NOT NULL,
	kind        TEXT        NOT NULL DEFAULT '',
	status      INTEGER     NOT NULL DEFAULT 0,
	latency_ms  BIGINT      NOT NULL,
	next_state  TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS completion_attempts_session_idx
	ON completion_attempts (session_id, created_at DESC);
`

type PostgresAttemptLog struct {
	db *sql.DB
}

func NewPostgresAttemptLog(db *sql.DB) *PostgresAttemptLog {
	return &PostgresAttemptLog{db: db}
}

func (r *PostgresAttemptLog) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, AttemptSchema); err != nil {
		return fmt.Errorf("create attempt schema: %w", err)
	}
	return nil
}

func (r *PostgresAttemptLog) Record(ctx context.Context, rec AttemptRecord) error {
	query := `
		INSERT INTO completion_attempts (call_id, session_id, roster, model, key_index, round, attempt, outcome, kind, status, latency_ms, next_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.CallID,
		rec.SessionID,
		rec.Roster,
		rec.Model,
		rec.KeyIndex,
		rec.Round,
		rec.Attempt,
		rec.Outcome,
		rec.Kind,
		rec.Status,
		rec.LatencyMs,
		rec.Next,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attempt record: %w", err)
	}
	return nil
}

func (r *PostgresAttemptLog) BySession(ctx context.Context, sessionID string, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT call_id, session_id, roster, model, key_index, round, attempt, outcome, kind, status, latency_ms, next_state, created_at
		FROM completion_attempts
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempt records: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		err := rows.Scan(
			&rec.CallID,
			&rec.SessionID,
			&rec.Roster,
			&rec.Model,
			&rec.KeyIndex,
			&rec.Round,
			&rec.Attempt,
			&rec.Outcome,
			&rec.Kind,
			&rec.Status,
			&rec.LatencyMs,
			&rec.Next,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
