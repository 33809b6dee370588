package phase

import (
	"log/slog"

	"github.com/rigorlab/rigor/pkg/models"
)

// backwardEdges whitelists the legal revision edges, keyed by source stage.
// Everything else moves forward one stage at a time; skipping ahead is never
// legal.
var backwardEdges = map[models.Stage][]models.Stage{
	models.StageLiteratureReview:    {models.StageProblemFormulation},
	models.StageGapAnalysis:         {models.StageLiteratureReview, models.StageProblemFormulation},
	models.StageHypothesisFormation: {models.StageLiteratureReview, models.StageProblemFormulation},
	models.StageExperimentalDesign:  {models.StageHypothesisFormation, models.StageProblemFormulation},
	models.StageAnalysis:            {models.StageDataCollection},
}

// Machine validates and applies stage transitions for a single run.
type Machine struct {
	logger *slog.Logger
}

func NewMachine(logger *slog.Logger) *Machine {
	return &Machine{logger: logger.With("module", "phase")}
}

// Allowed reports whether the edge from -> to is in the adjacency table.
// The experimental_design -> data_collection edge exists only for runs
// without human subjects; that condition is a precondition, checked by
// CanEnter, not part of the static table lookup here.
func (m *Machine) Allowed(run *models.Run, from, to models.Stage) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}

	if next, ok := from.Next(); ok && next == to {
		return true
	}

	// IRB skip: the only conditional forward edge.
	if from == models.StageExperimentalDesign && to == models.StageDataCollection && !run.HumanSubjects {
		return true
	}

	for _, target := range backwardEdges[from] {
		if target == to {
			return true
		}
	}

	return false
}

// CanEnter checks stage preconditions for the run. A nil error means entry
// is permitted.
func (m *Machine) CanEnter(run *models.Run, stage models.Stage) error {
	if stage == models.StageDataCollection && run.HumanSubjects && !run.HasCompleted(models.StageIRBApproval) {
		return &TransitionError{
			From:   run.CurrentStage,
			To:     stage,
			Reason: "human-subjects run requires completed irb_approval before data_collection",
			Err:    ErrEntryBlocked,
		}
	}

	return nil
}

// CanExit reports whether the validation outcome permits leaving the stage.
func (m *Machine) CanExit(run *models.Run, v models.ValidationResult) bool {
	return v.Passed && len(v.BlockingIssues) == 0
}

// Transition moves the run along the requested edge. The caller is expected
// to have closed the open stage record for forward transitions; backward
// transitions close it here as abandoned.
func (m *Machine) Transition(run *models.Run, target models.Stage) error {
	from := run.CurrentStage

	if !m.Allowed(run, from, target) {
		return &TransitionError{From: from, To: target, Err: ErrIllegalTransition}
	}

	if err := m.CanEnter(run, target); err != nil {
		return err
	}

	if target.Index() < from.Index() {
		m.rollback(run, from, target)
	}

	run.EnterStage(target)
	m.logger.Info("transitioned", "run_id", run.ID, "from", from, "to", target)

	return nil
}

// rollback abandons the in-flight visit and every visited stage strictly
// between target and source. History is append-only: records are marked
// abandoned, never deleted, and context written by the abandoned middle
// stages is tombstoned so later reads see it as absent.
func (m *Machine) rollback(run *models.Run, source, target models.Stage) {
	if rec := run.OpenRecord(); rec != nil {
		_ = run.CloseStage(models.OutcomeAbandoned, "")
	}

	between := make(map[models.Stage]bool)

	for _, stage := range models.Stages() {
		if stage.Index() > target.Index() && stage.Index() < source.Index() {
			between[stage] = true
		}
	}

	for _, rec := range run.StageHistory {
		if between[rec.Stage] && !rec.Open() && rec.Outcome != models.OutcomeAbandoned {
			rec.Outcome = models.OutcomeAbandoned
		}
	}

	tombstoned := run.TombstoneStages(between)
	run.Audit("rollback", target, map[string]any{
		"from":             string(source),
		"tombstoned_keys":  tombstoned,
		"abandoned_stages": len(between),
	})

	m.logger.Info("rolled back", "run_id", run.ID, "from", source, "to", target, "tombstoned_keys", tombstoned)
}
