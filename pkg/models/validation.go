package models

// ValidationResult is the outcome of an entry or exit check for a stage.
//
// Score is a normalized completeness ratio in [0,1]; each validator defines
// its own rubric. A non-empty BlockingIssues list forces Passed to be false
// regardless of score.
type ValidationResult struct {
	Passed         bool           `json:"passed"`
	Score          float64        `json:"score"`
	MissingItems   []string       `json:"missing_items,omitempty"`
	Warnings       []string       `json:"warnings,omitempty"`
	BlockingIssues []string       `json:"blocking_issues,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Normalize clamps the score into [0,1] and enforces the blocking-issue rule.
func (v ValidationResult) Normalize() ValidationResult {
	if v.Score < 0 {
		v.Score = 0
	}

	if v.Score > 1 {
		v.Score = 1
	}

	if len(v.BlockingIssues) > 0 {
		v.Passed = false
	}

	return v
}

// Pass is a shorthand for an unconditional pass.
func Pass() ValidationResult {
	return ValidationResult{Passed: true, Score: 1.0}
}

// Block is a shorthand for a hard failure with the given issues.
func Block(issues ...string) ValidationResult {
	return ValidationResult{Passed: false, Score: 0, BlockingIssues: issues}
}
