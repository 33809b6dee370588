package validators

import (
	"fmt"

	"github.com/rigorlab/rigor/pkg/models"
)

// stageOutputs lists the expected artifacts for stages that have no
// framework-specific rubric. Stages absent from this table fall back to a
// single summary artifact.
var stageOutputs = map[models.Stage][]string{
	models.StageGapAnalysis:         {"docs/gap_analysis.md"},
	models.StageHypothesisFormation: {"docs/hypotheses.md"},
	models.StageIRBApproval:         {"docs/irb_approval.md"},
	models.StageDataCollection:      {"data/raw/collection_log.md"},
	models.StageAnalysis:            {"results/analysis_report.md", "code/analysis.py"},
	models.StageInterpretation:      {"docs/interpretation.md"},
	models.StageWriting:             {"docs/manuscript.md"},
	models.StagePublication:         {"docs/submission_record.md"},
}

// Completion is the fallback validator: it scores a stage by the presence of
// its expected output artifacts.
type Completion struct {
	artifactChecks
	stage models.Stage
}

func NewCompletion(projectRoot string, stage models.Stage) *Completion {
	return &Completion{artifactChecks{root: projectRoot}, stage}
}

// EntryCheck requires the preceding stage to be complete, except for edges
// the phase table itself already legitimizes (revisits and the IRB skip).
func (v *Completion) EntryCheck(run *models.Run) models.ValidationResult {
	idx := v.stage.Index()
	if idx <= 0 {
		return models.Pass()
	}

	prev := models.Stages()[idx-1]

	// data_collection may be entered directly from experimental_design on
	// non-human-subjects runs; the phase machine enforces the flag.
	if v.stage == models.StageDataCollection && !run.HumanSubjects {
		prev = models.StageExperimentalDesign
	}

	if !run.HasCompleted(prev) {
		return models.Block(fmt.Sprintf("%s must be complete first", prev))
	}

	return models.Pass()
}

// ExitCheck passes when every expected output artifact is present.
func (v *Completion) ExitCheck(_ *models.Run) models.ValidationResult {
	outputs := stageOutputs[v.stage]
	if len(outputs) == 0 {
		outputs = []string{fmt.Sprintf("output_%s.md", v.stage)}
	}

	checks := make(map[string]bool, len(outputs))

	var missing []string

	for _, rel := range outputs {
		ok := v.fileExists(rel)
		checks["file_"+rel] = ok

		if !ok {
			missing = append(missing, rel)
		}
	}

	var blocking []string

	if len(missing) > 0 {
		blocking = append(blocking, fmt.Sprintf("%d expected artifacts missing", len(missing)))
	}

	return models.ValidationResult{
		Passed:         len(missing) == 0,
		Score:          ratio(checks),
		MissingItems:   missing,
		BlockingIssues: blocking,
		Details:        map[string]any{"checks": checks},
	}.Normalize()
}
