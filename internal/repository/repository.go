// Package repository records training runs in Postgres, or in memory when no
// database is configured.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/runenkrieg/internal/domain"
)

var ErrDuplicateRun = errors.New("training run already exists")

type Repository interface {
	InsertRun(ctx context.Context, run *domain.TrainingRun) (int64, error)
	GetRun(ctx context.Context, runUUID string) (*domain.TrainingRun, error)
	RecentRuns(ctx context.Context, kind domain.RunKind, limit int) ([]*domain.TrainingRun, error)
}

// Schema creates the ledger table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS training_runs (
	id          BIGSERIAL PRIMARY KEY,
	run_uuid    TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	samples     INTEGER NOT NULL DEFAULT 0,
	contexts    INTEGER NOT NULL DEFAULT 0,
	model_key   TEXT NOT NULL DEFAULT '',
	summary     JSONB NOT NULL DEFAULT '{}'::jsonb,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	ended_at    TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS training_runs_kind_ended ON training_runs (kind, ended_at DESC);`

// Open connects to Postgres with the pool settings used across services.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) Repository {
	return &postgres{db: db}
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create training_runs: %w", err)
	}
	return nil
}

func (r *postgres) InsertRun(ctx context.Context, run *domain.TrainingRun) (int64, error) {
	if run == nil {
		return 0, fmt.Errorf("nil training run payload")
	}
	summary, err := json.Marshal(orEmpty(run.Summary))
	if err != nil {
		return 0, fmt.Errorf("marshal summary: %w", err)
	}

	const query = `
		INSERT INTO training_runs (
			run_uuid,
			kind,
			status,
			samples,
			contexts,
			model_key,
			summary,
			error,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
		ON CONFLICT (run_uuid) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		run.RunUUID,
		string(run.Kind),
		string(run.Status),
		run.Samples,
		run.Contexts,
		run.ModelKey,
		summary,
		run.Error,
		run.StartedAt,
		run.EndedAt,
		run.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateRun
	}
	if err != nil {
		return 0, fmt.Errorf("insert training run: %w", err)
	}
	return id.Int64, nil
}

const selectColumns = `
		SELECT
			id,
			run_uuid,
			kind,
			status,
			samples,
			contexts,
			model_key,
			summary,
			error,
			started_at,
			ended_at,
			duration_ms
		FROM training_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.TrainingRun, error) {
	var (
		run         domain.TrainingRun
		kind        string
		status      string
		summaryJSON []byte
		durationMS  sql.NullInt64
	)
	if err := s.Scan(
		&run.ID,
		&run.RunUUID,
		&kind,
		&status,
		&run.Samples,
		&run.Contexts,
		&run.ModelKey,
		&summaryJSON,
		&run.Error,
		&run.StartedAt,
		&run.EndedAt,
		&durationMS,
	); err != nil {
		return nil, err
	}
	run.Kind, run.Status = domain.RunKind(kind), domain.RunStatus(status)
	if durationMS.Valid {
		run.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &run.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return &run, nil
}

func (r *postgres) GetRun(ctx context.Context, runUUID string) (*domain.TrainingRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectColumns+` WHERE run_uuid = $1`, runUUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select training run: %w", err)
	}
	return run, nil
}

func (r *postgres) RecentRuns(ctx context.Context, kind domain.RunKind, limit int) ([]*domain.TrainingRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		WHERE ($1 = '' OR kind = $1)
		ORDER BY ended_at DESC
		LIMIT $2`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("select training runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.TrainingRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan training run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training runs: %w", err)
	}
	return runs, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
