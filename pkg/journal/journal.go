// Package journal persists an audit trail of engine runs to Postgres. The
// journal is optional: a nil *Journal is a valid no-op, so runs work
// unchanged when no database is configured.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petalo/mailsift/pkg/logging"
)

// RunRecord summarizes one engine run.
type RunRecord struct {
	ID                 uuid.UUID
	StartedAt          time.Time
	FinishedAt         time.Time
	Skipped            bool
	Success            bool
	ThreadsExamined    int
	ThreadsProcessed   int
	AttachmentsKept    int
	AttachmentsSkipped int
	Duplicates         int
	InvoiceCopies      int
	Errors             int
}

// SavedFile is one attachment persisted during a run.
type SavedFile struct {
	RunID     uuid.UUID
	Domain    string
	Sender    string
	Subject   string
	Name      string
	SizeBytes int64
	Invoice   bool
	SentAt    time.Time
}

// InvoiceSighting is one past invoice message from a sender, used to build
// history summaries for the AI scorers.
type InvoiceSighting struct {
	Subject string
	SentAt  time.Time
}

// Journal writes run audit rows through a pgx pool.
type Journal struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// Open connects to the journal database and ensures its schema.
func Open(ctx context.Context, dsn string, logger logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse journal DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect journal database: %w", err)
	}
	j := &Journal{pool: pool, logger: logger}
	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	skipped BOOLEAN NOT NULL,
	success BOOLEAN NOT NULL,
	threads_examined INT NOT NULL,
	threads_processed INT NOT NULL,
	attachments_kept INT NOT NULL,
	attachments_skipped INT NOT NULL,
	duplicates INT NOT NULL,
	invoice_copies INT NOT NULL,
	errors INT NOT NULL
);
CREATE TABLE IF NOT EXISTS saved_files (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL REFERENCES runs(id),
	domain TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	subject TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	invoice BOOLEAN NOT NULL,
	sent_at TIMESTAMPTZ
);
ALTER TABLE saved_files ADD COLUMN IF NOT EXISTS confirmed BOOLEAN NOT NULL DEFAULT FALSE;
CREATE INDEX IF NOT EXISTS saved_files_sender_confirmed_idx
	ON saved_files (sender, sent_at) WHERE confirmed;`
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	return nil
}

// RecordRun writes the run summary row. Nil-safe.
func (j *Journal) RecordRun(ctx context.Context, rec RunRecord) error {
	if j == nil {
		return nil
	}
	_, err := j.pool.Exec(ctx, `
INSERT INTO runs (id, started_at, finished_at, skipped, success,
	threads_examined, threads_processed, attachments_kept,
	attachments_skipped, duplicates, invoice_copies, errors)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.StartedAt, rec.FinishedAt, rec.Skipped, rec.Success,
		rec.ThreadsExamined, rec.ThreadsProcessed, rec.AttachmentsKept,
		rec.AttachmentsSkipped, rec.Duplicates, rec.InvoiceCopies, rec.Errors)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordFile writes one saved-file row. Nil-safe; failures are logged and
// swallowed so audit trouble never fails a run.
func (j *Journal) RecordFile(ctx context.Context, file SavedFile) {
	if j == nil {
		return
	}
	_, err := j.pool.Exec(ctx, `
INSERT INTO saved_files (run_id, domain, sender, subject, name, size_bytes, invoice, sent_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		file.RunID, file.Domain, file.Sender, file.Subject, file.Name,
		file.SizeBytes, file.Invoice, file.SentAt)
	if err != nil {
		j.logger.Warn("failed to record saved file", logging.Err(err))
	}
}

// InvoiceSightings returns the most recent confirmed invoice messages from
// a sender, newest first. Nil-safe. Only rows a person confirmed through
// ConfirmSender count: the engine's own automatic verdicts never feed the
// history it later shows the AI scorers.
func (j *Journal) InvoiceSightings(ctx context.Context, sender string, limit int) ([]InvoiceSighting, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.pool.Query(ctx, `
SELECT subject, sent_at FROM saved_files
WHERE confirmed AND sender = $1 AND sent_at IS NOT NULL
ORDER BY sent_at DESC LIMIT $2`, sender, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice sightings: %w", err)
	}
	defer rows.Close()

	var out []InvoiceSighting
	for rows.Next() {
		var s InvoiceSighting
		if err := rows.Scan(&s.Subject, &s.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice sighting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ConfirmSender marks a sender's filed invoices as manually confirmed,
// returning how many rows changed. Nil-safe.
func (j *Journal) ConfirmSender(ctx context.Context, sender string) (int64, error) {
	if j == nil {
		return 0, nil
	}
	tag, err := j.pool.Exec(ctx, `
UPDATE saved_files SET confirmed = TRUE
WHERE invoice AND sender = $1 AND NOT confirmed`, sender)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm invoices from %s: %w", sender, err)
	}
	return tag.RowsAffected(), nil
}

// LastRun returns the most recent run summary, or nil when none exists.
func (j *Journal) LastRun(ctx context.Context) (*RunRecord, error) {
	if j == nil {
		return nil, nil
	}
	row := j.pool.QueryRow(ctx, `
SELECT id, started_at, finished_at, skipped, success,
	threads_examined, threads_processed, attachments_kept,
	attachments_skipped, duplicates, invoice_copies, errors
FROM runs ORDER BY started_at DESC LIMIT 1`)

	var rec RunRecord
	err := row.Scan(&rec.ID, &rec.StartedAt, &rec.FinishedAt, &rec.Skipped, &rec.Success,
		&rec.ThreadsExamined, &rec.ThreadsProcessed, &rec.AttachmentsKept,
		&rec.AttachmentsSkipped, &rec.Duplicates, &rec.InvoiceCopies, &rec.Errors)
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	return &rec, nil
}

// Close releases the pool. Nil-safe.
func (j *Journal) Close() {
	if j == nil || j.pool == nil {
		return
	}
	j.pool.Close()
}
