package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of a tracked search job.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSubmitting  Phase = "submitting"
	PhaseInFlight    Phase = "in_flight"
	PhaseReconciling Phase = "reconciling"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether no further transitions can happen for the job instance.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Active reports whether the job is still waiting on the remote service.
func (p Phase) Active() bool {
	return p == PhaseSubmitting || p == PhaseInFlight || p == PhaseReconciling
}

// StatusIdle is the status label shown before any status has been observed.
const StatusIdle = "Idle"

// JobSnapshot is an immutable view of a client's tracked job. Version grows by
// one on every transition so consumers can drop out-of-order copies.
type JobSnapshot struct {
	ID           uuid.UUID     `json:"id"`
	Query        Query         `json:"query"`
	Phase        Phase         `json:"phase"`
	ElapsedTicks int           `json:"elapsed_ticks"`
	StatusLabel  string        `json:"status_label"`
	Result       *ResultBundle `json:"result,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Advisory     string        `json:"advisory,omitempty"`
	Version      uint64        `json:"version"`
	SubmittedAt  time.Time     `json:"submitted_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// IdleSnapshot is what a client sees before it has ever submitted.
func IdleSnapshot() JobSnapshot {
	return JobSnapshot{Phase: PhaseIdle, StatusLabel: StatusIdle}
}

// JobRecord is the persisted history entry for a finished search job.
type JobRecord struct {
	ID           uuid.UUID     `db:"id"            json:"id"`
	ClientID     uuid.UUID     `db:"client_id"     json:"client_id"`
	Sequence     string        `db:"sequence"      json:"sequence"`
	SearchMode   SearchMode    `db:"search_mode"   json:"search_mode"`
	Database     Database      `db:"database_name" json:"database"`
	Phase        Phase         `db:"phase"         json:"phase"`
	ElapsedTicks int           `db:"elapsed_ticks" json:"elapsed_ticks"`
	StatusLabel  string        `db:"status_label"  json:"status_label"`
	Result       *ResultBundle `db:"result"        json:"result,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
	SubmittedAt  time.Time     `db:"submitted_at"  json:"submitted_at"`
	FinishedAt   *time.Time    `db:"finished_at"   json:"finished_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"    json:"updated_at"`
}

// RecordFromSnapshot converts a terminal snapshot into a history entry.
func RecordFromSnapshot(clientID uuid.UUID, s JobSnapshot) *JobRecord {
	rec := &JobRecord{
		ID:           s.ID,
		ClientID:     clientID,
		Sequence:     s.Query.Sequence,
		SearchMode:   s.Query.SearchMode,
		Database:     s.Query.Database,
		Phase:        s.Phase,
		ElapsedTicks: s.ElapsedTicks,
		StatusLabel:  s.StatusLabel,
		Result:       s.Result,
		SubmittedAt:  s.SubmittedAt,
		FinishedAt:   s.FinishedAt,
	}
	if s.ErrorMessage != "" {
		msg := s.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return rec
}

// Snapshot rebuilds the client-facing view of a stored job. Version and
// Advisory are not persisted and come back zero.
func (r *JobRecord) Snapshot() JobSnapshot {
	s := JobSnapshot{
		ID:           r.ID,
		Query:        Query{Sequence: r.Sequence, SearchMode: r.SearchMode, Database: r.Database},
		Phase:        r.Phase,
		ElapsedTicks: r.ElapsedTicks,
		StatusLabel:  r.StatusLabel,
		Result:       r.Result,
		SubmittedAt:  r.SubmittedAt,
		FinishedAt:   r.FinishedAt,
	}
	if r.ErrorMessage != nil {
		s.ErrorMessage = *r.ErrorMessage
	}
	return s
}
