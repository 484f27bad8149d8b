package run

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/trackersync/trackersync/internal/reconcile"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run maps to the runs table. It records one reconciliation pass over a batch
// of source rows, with the produced bundle stored as JSONB.
type Run struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Program    string          `db:"program" json:"program"`
	Status     string          `db:"status" json:"status"`
	RowCount   int             `db:"row_count" json:"row_count"`
	Summary    Summary         `db:"summary" json:"summary"`
	Bundle     json.RawMessage `db:"bundle" json:"bundle,omitempty"`
	DurationMS int64           `db:"duration_ms" json:"duration_ms"`
	CreatedBy  string          `db:"created_by" json:"created_by,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Summary holds the per-bucket counts of a result bundle.
type Summary struct {
	Entities          int `json:"entities"`
	EntityUpdates     int `json:"entityUpdates"`
	Enrollments       int `json:"enrollments"`
	EnrollmentUpdates int `json:"enrollmentUpdates"`
	Events            int `json:"events"`
	EventUpdates      int `json:"eventUpdates"`
	Errors            int `json:"errors"`
	Conflicts         int `json:"conflicts"`
}

func summarize(b *reconcile.ResultBundle) Summary {
	return Summary{
		Entities:          len(b.Entities),
		EntityUpdates:     len(b.EntityUpdates),
		Enrollments:       len(b.Enrollments),
		EnrollmentUpdates: len(b.EnrollmentUpdates),
		Events:            len(b.Events),
		EventUpdates:      len(b.EventUpdates),
		Errors:            len(b.Errors),
		Conflicts:         len(b.Conflicts),
	}
}
