package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Mode controls how the orchestrator gates stage transitions.
type Mode string

const (
	ModeInteractive Mode = "interactive" // transitions require explicit confirmation
	ModeAutonomous  Mode = "autonomous"  // transitions apply as soon as a stage converges
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeInteractive || m == ModeAutonomous
}

// Outcome is the terminal status of one visit to a stage.
type Outcome string

const (
	OutcomeInProgress       Outcome = "in_progress"
	OutcomeAdvanced         Outcome = "advanced"
	OutcomeConvergedPartial Outcome = "converged_partial"
	OutcomeEscalated        Outcome = "escalated"
	OutcomeAbandoned        Outcome = "abandoned"
)

// IterationRecord is one execute/validate cycle within a stage attempt.
// Immutable once appended.
type IterationRecord struct {
	Index              int       `json:"index"` // 1-based, monotonic within the stage attempt
	Score              float64   `json:"score"`
	ScoreDelta         float64   `json:"score_delta"`
	MissingItems       []string  `json:"missing_items,omitempty"`
	BlockingIssues     []string  `json:"blocking_issues,omitempty"`
	RemediationApplied *string   `json:"remediation_applied,omitempty"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// StageRecord is the history of one visit to a stage. Re-entries append new
// records; old records are never mutated except to be closed.
type StageRecord struct {
	Stage      Stage             `json:"stage"`
	EnteredAt  time.Time         `json:"entered_at"`
	ExitedAt   *time.Time        `json:"exited_at,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Iterations []IterationRecord `json:"iterations,omitempty"`
	Caveat     string            `json:"caveat,omitempty"` // recorded when advancing on a partial convergence
}

// Open reports whether this visit is still in progress.
func (r *StageRecord) Open() bool {
	return r.ExitedAt == nil
}

// LastScore returns the score of the most recent iteration, or 0 when none.
func (r *StageRecord) LastScore() float64 {
	if len(r.Iterations) == 0 {
		return 0
	}

	return r.Iterations[len(r.Iterations)-1].Score
}

// ContextEntry is one artifact reference accumulated by a stage. Entries are
// write-once per key; a rollback tombstones them instead of deleting.
type ContextEntry struct {
	Value      string    `json:"value"` // artifact reference, not an inline blob
	Stage      Stage     `json:"stage"`
	WrittenAt  time.Time `json:"written_at"`
	Tombstoned bool      `json:"tombstoned,omitempty"`
}

// AuditEntry records one state-changing action on the run.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Stage     Stage          `json:"stage"`
	Details   map[string]any `json:"details,omitempty"`
}

// Run is one instance of a workflow execution. It is owned by exactly one
// orchestrator and mutated only through orchestrator operations.
type Run struct {
	ID            string                  `json:"id"`
	Mode          Mode                    `json:"mode"                validate:"required,oneof=interactive autonomous"`
	CurrentStage  Stage                   `json:"current_stage"       validate:"required"`
	StageHistory  []*StageRecord          `json:"stage_history"`
	Context       map[string]ContextEntry `json:"context"`
	AuditTrail    []AuditEntry            `json:"audit_trail,omitempty"`
	HumanSubjects bool                    `json:"human_subjects"`

	// Pending records an advance decision awaiting interactive confirmation.
	Pending *PendingAdvance `json:"pending,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	// Provenance set when the run was restored from a snapshot.
	RestoredFrom string     `json:"restored_from,omitempty"`
	RestoredAt   *time.Time `json:"restored_at,omitempty"`
}

// PendingAdvance is a converged stage waiting for an explicit confirmation.
type PendingAdvance struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Outcome   Outcome   `json:"outcome"`
	Score     float64   `json:"score"`
	Caveat    string    `json:"caveat,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// NewRun creates a run positioned at the first stage with an open record.
func NewRun(mode Mode, humanSubjects bool) *Run {
	now := time.Now().UTC()
	run := &Run{
		ID:            uuid.New().String(),
		Mode:          mode,
		CurrentStage:  FirstStage(),
		Context:       make(map[string]ContextEntry),
		HumanSubjects: humanSubjects,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	run.openStage(FirstStage(), now)

	return run
}

// OpenRecord returns the single open stage record. The run invariant holds
// that exactly one record is open at any time before archival.
func (r *Run) OpenRecord() *StageRecord {
	for i := len(r.StageHistory) - 1; i >= 0; i-- {
		if r.StageHistory[i].Open() {
			return r.StageHistory[i]
		}
	}

	return nil
}

// EnterStage appends a new open record for stage and moves the run there.
func (r *Run) EnterStage(stage Stage) {
	now := time.Now().UTC()
	r.openStage(stage, now)
	r.Audit("stage_entered", stage, nil)
}

func (r *Run) openStage(stage Stage, at time.Time) {
	r.StageHistory = append(r.StageHistory, &StageRecord{
		Stage:     stage,
		EnteredAt: at,
		Outcome:   OutcomeInProgress,
	})
	r.CurrentStage = stage
	r.UpdatedAt = at
}

// CloseStage terminates the open record with the given outcome.
func (r *Run) CloseStage(outcome Outcome, caveat string) error {
	rec := r.OpenRecord()
	if rec == nil {
		return fmt.Errorf("run %s has no open stage record", r.ID)
	}

	now := time.Now().UTC()
	rec.ExitedAt = &now
	rec.Outcome = outcome
	rec.Caveat = caveat
	r.UpdatedAt = now
	r.Audit("stage_exited", rec.Stage, map[string]any{"outcome": string(outcome)})

	return nil
}

// ReopenStage reverts CloseStage on the most recent record. Used when a
// transition is refused after the exit outcome was already recorded.
func (r *Run) ReopenStage() {
	if n := len(r.StageHistory); n > 0 && !r.StageHistory[n-1].Open() {
		rec := r.StageHistory[n-1]
		rec.ExitedAt = nil
		rec.Outcome = OutcomeInProgress
		rec.Caveat = ""
		r.UpdatedAt = time.Now().UTC()
	}
}

// HasCompleted reports whether a visit to stage ended with a non-abandoned,
// non-escalated outcome.
func (r *Run) HasCompleted(stage Stage) bool {
	for _, rec := range r.StageHistory {
		if rec.Stage != stage || rec.Open() {
			continue
		}

		if rec.Outcome == OutcomeAdvanced || rec.Outcome == OutcomeConvergedPartial {
			return true
		}
	}

	return false
}

// SetContext records an artifact reference under key. Keys are write-once: a
// live entry written by another stage is not silently overwritten.
func (r *Run) SetContext(key, value string) error {
	if existing, ok := r.Context[key]; ok && !existing.Tombstoned {
		if existing.Stage != r.CurrentStage {
			return fmt.Errorf("context key %q already written by stage %s", key, existing.Stage)
		}
	}

	r.Context[key] = ContextEntry{
		Value:     value,
		Stage:     r.CurrentStage,
		WrittenAt: time.Now().UTC(),
	}
	r.UpdatedAt = time.Now().UTC()

	return nil
}

// ContextValue reads a live context entry. Tombstoned entries read as absent.
func (r *Run) ContextValue(key string) (string, bool) {
	entry, ok := r.Context[key]
	if !ok || entry.Tombstoned {
		return "", false
	}

	return entry.Value, true
}

// TombstoneStages marks every live context entry written by one of the given
// stages as absent. The entries stay in the document for auditability.
func (r *Run) TombstoneStages(stages map[Stage]bool) int {
	count := 0

	for key, entry := range r.Context {
		if entry.Tombstoned || !stages[entry.Stage] {
			continue
		}

		entry.Tombstoned = true
		r.Context[key] = entry
		count++
	}

	if count > 0 {
		r.UpdatedAt = time.Now().UTC()
	}

	return count
}

// Audit appends an entry to the run's append-only audit trail.
func (r *Run) Audit(action string, stage Stage, details map[string]any) {
	r.AuditTrail = append(r.AuditTrail, AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Stage:     stage,
		Details:   details,
	})
}

// Progress returns the completed fraction of the canonical sequence.
func (r *Run) Progress() float64 {
	completed := 0
	for _, stage := range Stages() {
		if r.HasCompleted(stage) {
			completed++
		}
	}

	return float64(completed) / float64(len(Stages()))
}
