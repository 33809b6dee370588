// Package convergence runs the per-stage iteration loop: execute, validate,
// record, then decide whether to advance, keep iterating, accept a partial
// result, or escalate.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/invoker"
	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/protocol"
)

// Registry resolves the per-stage validator and collaborator.
type Registry interface {
	ValidatorFor(stage models.Stage) protocol.Validator
	CollaboratorFor(stage models.Stage) (protocol.Collaborator, bool)
}

// Decision is the controller's verdict after one iteration.
type Decision string

const (
	// DecisionAdvance: the stage passed at or above its threshold.
	DecisionAdvance Decision = "advance"
	// DecisionContinue: iterate again after applying remediation.
	DecisionContinue Decision = "continue"
	// DecisionAcceptPartial: converged below threshold but above the
	// minimum acceptable score; advancing requires a recorded caveat.
	DecisionAcceptPartial Decision = "accept_partial"
	// DecisionEscalate: automatic progress is not safe; hand to operator.
	DecisionEscalate Decision = "escalate"
)

// convergenceReason distinguishes why iteration stopped short of the threshold.
type convergenceReason string

const (
	convergedLimit  convergenceReason = "iteration limit reached"
	convergedStable convergenceReason = "score plateaued within stability window"
	escalatedFatal  convergenceReason = "collaborator failure"
	escalatedFloor  convergenceReason = "escalation iteration reached below minimum acceptable score"
)

// Result reports one iteration's outcome to the orchestrator.
type Result struct {
	Decision    Decision
	Reason      string
	Validation  models.ValidationResult
	Iteration   models.IterationRecord
	Remediation *Action
	Caveat      string
}

// Controller owns the iteration bookkeeping for the open stage record.
// It is strictly sequential: iteration k+1 never starts before iteration
// k's validation completes.
type Controller struct {
	cfg      config.Convergence
	invoker  *invoker.Invoker
	registry Registry
	logger   *slog.Logger
}

func NewController(cfg config.Convergence, inv *invoker.Invoker, reg Registry, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		invoker:  inv,
		registry: reg,
		logger:   logger.With("module", "convergence"),
	}
}

// RunIteration performs one execute/validate cycle for the run's current
// stage. The stage must have a collaborator; human-action stages go through
// Evaluate instead.
//
// Termination: each stage attempt appends at most MaxIterationsPerStage
// iteration records before this method stops returning DecisionContinue.
func (c *Controller) RunIteration(ctx context.Context, run *models.Run, projectRoot string) (*Result, error) {
	stage := run.CurrentStage

	rec := run.OpenRecord()
	if rec == nil {
		return nil, fmt.Errorf("run %s has no open stage record", run.ID)
	}

	collab, ok := c.registry.CollaboratorFor(stage)
	if !ok {
		return nil, fmt.Errorf("stage %s has no collaborator; mark it complete instead", stage)
	}

	req := protocol.Request{
		RunID:       run.ID,
		Stage:       stage,
		ProjectRoot: projectRoot,
		Remediation: lastAppliedRemediation(rec),
	}

	artifacts, err := c.invoker.Invoke(ctx, collab, req)
	if err != nil {
		var fatal *invoker.FatalError
		if errors.As(err, &fatal) {
			// Record the aborted attempt as a synthetic failing iteration
			// so the history shows why the stage escalated.
			iteration := c.appendIteration(rec, models.ValidationResult{
				BlockingIssues: []string{fatal.Error()},
			}.Normalize())

			run.Audit("collaborator_failed", stage, map[string]any{"error": fatal.Error(), "attempts": fatal.Attempts})

			return &Result{
				Decision:   DecisionEscalate,
				Reason:     string(escalatedFatal),
				Validation: models.Block(fatal.Error()),
				Iteration:  iteration,
			}, nil
		}

		return nil, err
	}

	for key, ref := range artifacts {
		if err := run.SetContext(key, ref); err != nil {
			return nil, fmt.Errorf("collaborator %s: %w", collab.ID(), err)
		}
	}

	return c.evaluate(run, rec), nil
}

// Evaluate performs the validate/record/decide portion without invoking a
// collaborator. Used for human-action stages when the operator signals that
// external work is done.
func (c *Controller) Evaluate(run *models.Run) (*Result, error) {
	rec := run.OpenRecord()
	if rec == nil {
		return nil, fmt.Errorf("run %s has no open stage record", run.ID)
	}

	return c.evaluate(run, rec), nil
}

func (c *Controller) evaluate(run *models.Run, rec *models.StageRecord) *Result {
	stage := run.CurrentStage
	v := c.registry.ValidatorFor(stage).ExitCheck(run).Normalize()
	iteration := c.appendIteration(rec, v)
	idx := iteration.Index
	threshold := c.cfg.ThresholdFor(stage)

	c.logger.Info("iteration recorded",
		"run_id", run.ID, "stage", stage, "iteration", idx,
		"score", v.Score, "passed", v.Passed, "threshold", threshold)

	switch {
	case v.Passed && v.Score >= threshold:
		return &Result{Decision: DecisionAdvance, Validation: v, Iteration: iteration}

	case idx >= c.cfg.MaxIterationsPerStage:
		return c.converged(v, iteration, convergedLimit, idx)

	case c.stable(rec):
		return c.converged(v, iteration, convergedStable, idx)

	case idx >= c.cfg.EscalateAtIteration && v.Score < c.cfg.MinimumAcceptableScore:
		return &Result{Decision: DecisionEscalate, Reason: string(escalatedFloor), Validation: v, Iteration: iteration}

	default:
		action := deriveRemediation(stage, v)
		if run.Mode == models.ModeAutonomous && action.AutoApplicable {
			applied := action.Description
			rec.Iterations[len(rec.Iterations)-1].RemediationApplied = &applied
		}

		return &Result{Decision: DecisionContinue, Validation: v, Iteration: iteration, Remediation: action}
	}
}

// converged arbitrates a CONVERGED_* stop between partial acceptance and
// escalation.
func (c *Controller) converged(v models.ValidationResult, iteration models.IterationRecord, reason convergenceReason, idx int) *Result {
	if v.Score >= c.cfg.MinimumAcceptableScore && idx >= c.cfg.AcceptPartialAtIteration && len(v.BlockingIssues) == 0 {
		return &Result{
			Decision:   DecisionAcceptPartial,
			Reason:     string(reason),
			Validation: v,
			Iteration:  iteration,
			Caveat:     fmt.Sprintf("accepted at score %.2f after %d iterations (%s)", v.Score, idx, reason),
		}
	}

	return &Result{Decision: DecisionEscalate, Reason: string(reason), Validation: v, Iteration: iteration}
}

// stable reports whether the last StabilityWindow iterations all moved the
// score by less than StabilityDelta. The first iteration's delta is defined
// as zero, so stability is only judged once more than a full window of
// score-to-score deltas exists.
func (c *Controller) stable(rec *models.StageRecord) bool {
	n := len(rec.Iterations)
	if n <= c.cfg.StabilityWindow {
		return false
	}

	for _, it := range rec.Iterations[n-c.cfg.StabilityWindow:] {
		if math.Abs(it.ScoreDelta) >= c.cfg.StabilityDelta {
			return false
		}
	}

	return true
}

func (c *Controller) appendIteration(rec *models.StageRecord, v models.ValidationResult) models.IterationRecord {
	delta := 0.0
	if n := len(rec.Iterations); n > 0 {
		delta = v.Score - rec.Iterations[n-1].Score
	}

	iteration := models.IterationRecord{
		Index:          len(rec.Iterations) + 1,
		Score:          v.Score,
		ScoreDelta:     delta,
		MissingItems:   v.MissingItems,
		BlockingIssues: v.BlockingIssues,
		RecordedAt:     time.Now().UTC(),
	}
	rec.Iterations = append(rec.Iterations, iteration)

	return iteration
}

func lastAppliedRemediation(rec *models.StageRecord) string {
	for i := len(rec.Iterations) - 1; i >= 0; i-- {
		if rec.Iterations[i].RemediationApplied != nil {
			return *rec.Iterations[i].RemediationApplied
		}
	}

	return ""
}
