// Package lineageevent stores which published artifact each harvested
// dataset produced.
package lineageevent

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
)

// Event records that a dataset was published to Location on Target.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`
	DatasetIRI string    `json:"dataset_iri"`
	Target     string    `json:"target"`
	Location   string    `json:"location"`
	Quads      int       `json:"quads"`
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func Publication(runID, iri, target, location string, quads int) Event {
	return Event{
		RunID:      strings.TrimSpace(runID),
		DatasetIRI: strings.TrimSpace(iri),
		Target:     strings.TrimSpace(target),
		Location:   strings.TrimSpace(location),
		Quads:      quads,
	}
}

func (e Event) Validate() error {
	var missing []string
	if e.OccurredAt.IsZero() {
		missing = append(missing, "occurred_at")
	}
	if e.RunID == "" {
		missing = append(missing, "run_id")
	}
	if e.DatasetIRI == "" {
		missing = append(missing, "dataset_iri")
	}
	if e.Target == "" {
		missing = append(missing, "target")
	}
	if e.Location == "" {
		missing = append(missing, "location")
	}
	if len(missing) > 0 {
		return fmt.Errorf("lineage event: missing %s", strings.Join(missing, ", "))
	}
	if e.Quads < 0 {
		return errors.New("lineage event: quads must be >= 0")
	}
	return nil
}

// Insert validates e, stamps it when OccurredAt is unset and returns the new
// row id.
func Insert(ctx context.Context, q QueryRower, e Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	e.OccurredAt = e.OccurredAt.UTC()
	if err := e.Validate(); err != nil {
		return 0, err
	}
	integrity, err := ComputeIntegritySHA256(e)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx,
		`INSERT INTO lineage_events (occurred_at, run_id, dataset_iri, target, location, quads, integrity_sha256)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING event_id`,
		e.OccurredAt, e.RunID, e.DatasetIRI, e.Target, e.Location, e.Quads, integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lineage event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the JSON form of e.
func ComputeIntegritySHA256(e Event) (string, error) {
	e.OccurredAt = e.OccurredAt.UTC()
	blob, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
