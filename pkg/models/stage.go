// Package models defines the core domain models for the staged research workflow.
package models

import "fmt"

// Stage is one named step in the fixed ordered sequence a run progresses through.
type Stage string

const (
	StageProblemFormulation  Stage = "problem_formulation"
	StageLiteratureReview    Stage = "literature_review"
	StageGapAnalysis         Stage = "gap_analysis"
	StageHypothesisFormation Stage = "hypothesis_formation"
	StageExperimentalDesign  Stage = "experimental_design"
	StageIRBApproval         Stage = "irb_approval"
	StageDataCollection      Stage = "data_collection"
	StageAnalysis            Stage = "analysis"
	StageInterpretation      Stage = "interpretation"
	StageWriting             Stage = "writing"
	StagePublication         Stage = "publication"
)

// stageOrder is the canonical progression. Forward movement is always to the
// next element; there is no edge that skips an element.
var stageOrder = []Stage{
	StageProblemFormulation,
	StageLiteratureReview,
	StageGapAnalysis,
	StageHypothesisFormation,
	StageExperimentalDesign,
	StageIRBApproval,
	StageDataCollection,
	StageAnalysis,
	StageInterpretation,
	StageWriting,
	StagePublication,
}

// Stages returns the canonical stage sequence in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)

	return out
}

// FirstStage is the stage every new run starts in.
func FirstStage() Stage {
	return stageOrder[0]
}

// TerminalStage is the final stage of the sequence.
func TerminalStage() Stage {
	return stageOrder[len(stageOrder)-1]
}

// Index returns the zero-based position of the stage in the canonical order,
// or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, stage := range stageOrder {
		if stage == s {
			return i
		}
	}

	return -1
}

// Next returns the following stage in the canonical order. The second return
// is false when s is terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx == len(stageOrder)-1 {
		return "", false
	}

	return stageOrder[idx+1], true
}

// IsTerminal reports whether s is the final stage.
func (s Stage) IsTerminal() bool {
	return s == TerminalStage()
}

// Valid reports whether s is one of the canonical stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// ParseStage converts a stored or user-supplied stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}

	return s, nil
}
