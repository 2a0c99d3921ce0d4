// Package ledger records ingestion runs in PostgreSQL so operators can see
// when the index was loaded, from which file, and how many documents it got.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/filmsearch/pkg/postgres"
)

// Status of an ingestion run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

const schema = `CREATE TABLE IF NOT EXISTS ingest_runs (
	id          UUID PRIMARY KEY,
	index_name  TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	documents   BIGINT NOT NULL DEFAULT 0,
	skipped     BIGINT NOT NULL DEFAULT 0,
	failed      BIGINT NOT NULL DEFAULT 0,
	error       TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
)`

// Run is one row of ingest_runs.
type Run struct {
	ID         uuid.UUID
	Index      string
	Source     string
	Status     Status
	Documents  int64
	Skipped    int64
	Failed     int64
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Outcome is what Finish records for a run.
type Outcome struct {
	Status    Status
	Documents int64
	Skipped   int64
	Failed    int64
	Err       error
}

type Ledger struct {
	db     *postgres.Client
	logger *slog.Logger
}

func New(db *postgres.Client) *Ledger {
	return &Ledger{
		db:     db,
		logger: slog.Default().With("component", "ingest-ledger"),
	}
}

// EnsureSchema creates the ingest_runs table if needed.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating ingest_runs: %w", err)
	}
	return nil
}

// Start inserts a new running entry.
func (l *Ledger) Start(ctx context.Context, index, source string) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		Index:     index,
		Source:    source,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := l.db.DB.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, index_name, source, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID.String(), run.Index, run.Source, string(run.Status), run.StartedAt)
	if err != nil {
		return Run{}, fmt.Errorf("inserting ingest run: %w", err)
	}
	l.logger.Debug("ingest run started", "run_id", run.ID, "index", index)
	return run, nil
}

// Finish closes run with out. Finishing an unknown or already finished run
// returns ErrNotFound.
func (l *Ledger) Finish(ctx context.Context, run Run, out Outcome) error {
	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	return l.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ingest_runs
			SET status = $2, documents = $3, skipped = $4, failed = $5, error = $6, finished_at = $7
			WHERE id = $1 AND status = $8`,
			run.ID.String(), string(out.Status), out.Documents, out.Skipped, out.Failed,
			errText, time.Now().UTC(), string(StatusRunning))
		if err != nil {
			return fmt.Errorf("updating ingest run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating ingest run: %w", err)
		}
		if n != 1 {
			return apperrors.Newf(apperrors.ErrNotFound, 404, "ingest run %s is not running", run.ID)
		}
		return nil
	})
}

// Latest returns the most recent completed run for index, or ErrNotFound.
func (l *Ledger) Latest(ctx context.Context, index string) (Run, error) {
	var (
		run      Run
		id       string
		status   string
		errText  sql.NullString
		finished sql.NullTime
	)
	err := l.db.DB.QueryRowContext(ctx,
		`SELECT id, index_name, source, status, documents, skipped, failed, error, started_at, finished_at
		FROM ingest_runs
		WHERE index_name = $1 AND status = $2
		ORDER BY started_at DESC
		LIMIT 1`, index, string(StatusCompleted)).
		Scan(&id, &run.Index, &run.Source, &status, &run.Documents, &run.Skipped, &run.Failed,
			&errText, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, apperrors.Newf(apperrors.ErrNotFound, 404, "no completed ingest run for %s", index)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying latest ingest run: %w", err)
	}
	run.ID, err = uuid.Parse(id)
	if err != nil {
		return Run{}, fmt.Errorf("parsing ingest run id %q: %w", id, err)
	}
	run.Status = Status(status)
	run.Error = errText.String
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}
