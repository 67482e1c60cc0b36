package domain

import "time"

// State is the lifecycle state of one dataset within a batch.
type State string

const (
	StatePending        State = "pending"
	StatePublished      State = "published"
	StateSkippedInvalid State = "skipped_invalid"
	StateFailed         State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StatePublished, StateSkippedInvalid, StateFailed:
		return true
	default:
		return false
	}
}

// Step names a stage of the per-dataset pipeline.
type Step string

const (
	StepMetadata  Step = "metadata"
	StepResolve   Step = "resolve"
	StepTransform Step = "transform"
	StepValidate  Step = "validate"
	StepPublish   Step = "publish"
)

// Outcome is the recorded result of one dataset in a batch.
type Outcome struct {
	IRI         string    `json:"iri"`
	Title       string    `json:"title,omitempty"`
	State       State     `json:"state"`
	Tier        Tier      `json:"tier,omitempty"`
	Step        Step      `json:"step,omitempty"`
	Error       string    `json:"error,omitempty"`
	Violations  int       `json:"violations"`
	PublishedAs string    `json:"published_as,omitempty"`
	Records     int       `json:"records"`
	Triples     int       `json:"triples"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// BatchReport summarizes a harvest run.
type BatchReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Datasets   []Outcome     `json:"datasets"`
	Totals     map[State]int `json:"totals"`
	Violations int           `json:"violations"`
	Error      string        `json:"error,omitempty"`
}

// Add appends an outcome and updates the totals.
func (r *BatchReport) Add(o Outcome) {
	if r.Totals == nil {
		r.Totals = map[State]int{}
	}
	r.Datasets = append(r.Datasets, o)
	r.Totals[o.State]++
	r.Violations += o.Violations
}
