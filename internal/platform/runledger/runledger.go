// Package runledger records per-dataset harvest outcomes and publication
// lineage in Postgres.
package runledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/platform/lineageevent"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvest_outcomes (
	outcome_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	run_id TEXT NOT NULL,
	dataset_iri TEXT NOT NULL,
	state TEXT NOT NULL,
	tier TEXT,
	step TEXT,
	error TEXT,
	violations INTEGER NOT NULL DEFAULT 0,
	published_as TEXT,
	payload JSONB NOT NULL,
	integrity_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS harvest_outcomes_dataset_idx ON harvest_outcomes (dataset_iri, occurred_at DESC);
CREATE TABLE IF NOT EXISTS lineage_events (
	event_id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	run_id TEXT NOT NULL,
	dataset_iri TEXT NOT NULL,
	target TEXT NOT NULL,
	location TEXT NOT NULL,
	quads INTEGER NOT NULL,
	integrity_sha256 TEXT NOT NULL
);`

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OutcomeRecord is one dataset outcome as stored.
type OutcomeRecord struct {
	OccurredAt time.Time
	RunID      string
	Outcome    domain.Outcome
}

func (r OutcomeRecord) Validate() error {
	if r.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("RunID is required")
	}
	if strings.TrimSpace(r.Outcome.IRI) == "" {
		return errors.New("dataset iri is required")
	}
	if !r.Outcome.State.Terminal() {
		return fmt.Errorf("state %q is not terminal", r.Outcome.State)
	}
	return nil
}

func InsertOutcome(ctx context.Context, q QueryRower, rec OutcomeRecord) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	payloadJSON, err := json.Marshal(rec.Outcome)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(rec, payloadJSON)
	if err != nil {
		return 0, err
	}

	o := rec.Outcome
	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO harvest_outcomes (
			occurred_at,
			run_id,
			dataset_iri,
			state,
			tier,
			step,
			error,
			violations,
			published_as,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING outcome_id`,
		rec.OccurredAt.UTC(),
		strings.TrimSpace(rec.RunID),
		strings.TrimSpace(o.IRI),
		string(o.State),
		nullString(string(o.Tier)),
		nullString(string(o.Step)),
		nullString(o.Error),
		o.Violations,
		nullString(o.PublishedAs),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert harvest outcome: %w", err)
	}
	return id, nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func ComputeIntegritySHA256(rec OutcomeRecord, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		RunID      string          `json:"run_id"`
		DatasetIRI string          `json:"dataset_iri"`
		State      string          `json:"state"`
		Payload    json.RawMessage `json:"payload"`
	}
	in := integrityInput{
		OccurredAt: rec.OccurredAt.UTC(),
		RunID:      strings.TrimSpace(rec.RunID),
		DatasetIRI: strings.TrimSpace(rec.Outcome.IRI),
		State:      string(rec.Outcome.State),
		Payload:    payloadJSON,
	}
	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Recorder writes outcomes and publication lineage to a database.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (r *Recorder) RecordOutcome(ctx context.Context, runID string, o domain.Outcome) error {
	_, err := InsertOutcome(ctx, r.db, OutcomeRecord{OccurredAt: o.FinishedAt, RunID: runID, Outcome: o})
	return err
}

func (r *Recorder) RecordPublication(ctx context.Context, runID, iri, target, location string, quads int) error {
	_, err := lineageevent.Insert(ctx, r.db, lineageevent.Publication(runID, iri, target, location, quads))
	return err
}

// Ping reports whether the ledger database is reachable.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
