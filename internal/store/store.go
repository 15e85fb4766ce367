package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job is one row of the redaction ledger. Only metadata is kept, never pixels.
type Job struct {
	ID        string        `json:"id"`
	Kind      types.Kind    `json:"kind"`
	Source    string        `json:"source"`
	Output    string        `json:"output"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FrameRate string        `json:"frameRate"`
	Frames    int           `json:"frames"`
	Faces     int           `json:"faces"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewJob builds a ledger entry from the outcome of a run. report is ignored when err is set.
func NewJob(id string, kind types.Kind, source, output string, report types.Report, err error) Job {
	job := Job{
		ID:     id,
		Kind:   kind,
		Source: source,
		Output: output,
		Status: StatusSucceeded,
	}
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		job.Output = ""
		return job
	}
	job.Width = report.Descriptor.Width
	job.Height = report.Descriptor.Height
	if report.Descriptor.FrameRate.Valid() {
		job.FrameRate = report.Descriptor.FrameRate.String()
	}
	job.Frames = report.Frames
	job.Faces = report.Faces
	job.Elapsed = report.Elapsed
	return job
}

// Store keeps the job ledger in PostgreSQL.
// A pool is used because the HTTP server records jobs from concurrent requests.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS redaction_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			width INT NOT NULL DEFAULT 0,
			height INT NOT NULL DEFAULT 0,
			frame_rate TEXT NOT NULL DEFAULT '',
			frames INT NOT NULL DEFAULT 0,
			faces INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS redaction_jobs_created_at_idx ON redaction_jobs (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordJob saves a finished job. Recording the same ID twice overwrites the first entry.
func (s *Store) RecordJob(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO redaction_jobs (id, kind, source, output, width, height, frame_rate, frames, faces, status, error, elapsed_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			output = EXCLUDED.output, width = EXCLUDED.width, height = EXCLUDED.height,
			frame_rate = EXCLUDED.frame_rate, frames = EXCLUDED.frames, faces = EXCLUDED.faces,
			status = EXCLUDED.status, error = EXCLUDED.error, elapsed_ms = EXCLUDED.elapsed_ms
	`, job.ID, string(job.Kind), job.Source, job.Output, job.Width, job.Height, job.FrameRate,
		job.Frames, job.Faces, job.Status, job.Error, job.Elapsed.Milliseconds())
	return err
}

// ListJobs returns the most recent jobs first. A limit <= 0 returns everything.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	query := `
		SELECT id, kind, source, output, width, height, frame_rate, frames, faces, status, error, elapsed_ms, created_at
		FROM redaction_jobs
		ORDER BY created_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		var j Job
		var kind string
		var elapsedMS int64
		err := row.Scan(&j.ID, &kind, &j.Source, &j.Output, &j.Width, &j.Height, &j.FrameRate,
			&j.Frames, &j.Faces, &j.Status, &j.Error, &elapsedMS, &j.CreatedAt)
		j.Kind = types.Kind(kind)
		j.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		return j, err
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS redaction_jobs CASCADE;`)
	return err
}
