package validators

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rigorlab/rigor/pkg/models"
)

const problemStatementPath = "docs/problem_statement.md"

// questionRe matches an explicit research question: either a question-mark
// sentence or a "Research Question" heading.
var questionRe = regexp.MustCompile(`(?i)(research question|\?)`)

// finerCriteria are the five framework criteria a problem statement must
// address. Detection is keyword-based against the statement text.
var finerCriteria = []string{"feasible", "interesting", "novel", "ethical", "relevant"}

// FINER validates the problem_formulation stage against the FINER framework.
type FINER struct {
	artifactChecks
}

func NewFINER(projectRoot string) *FINER {
	return &FINER{artifactChecks{root: projectRoot}}
}

// EntryCheck always passes: problem formulation is the starting stage.
func (v *FINER) EntryCheck(_ *models.Run) models.ValidationResult {
	return models.Pass()
}

// ExitCheck requires the problem statement artifact, a clear research
// question, and at least four of the five FINER criteria addressed.
func (v *FINER) ExitCheck(_ *models.Run) models.ValidationResult {
	if !v.fileExists(problemStatementPath) {
		return models.ValidationResult{
			MissingItems:   []string{problemStatementPath},
			BlockingIssues: []string{"problem statement not found: " + problemStatementPath},
		}.Normalize()
	}

	content := strings.ToLower(v.readFile(problemStatementPath))
	checks := map[string]bool{
		"research_question": questionRe.MatchString(content),
	}

	var missing []string

	satisfied := 0

	for _, criterion := range finerCriteria {
		ok := strings.Contains(content, criterion)
		checks["criterion_"+criterion] = ok

		if ok {
			satisfied++
		} else {
			missing = append(missing, "FINER criterion not addressed: "+criterion)
		}
	}

	var blocking []string

	if !checks["research_question"] {
		blocking = append(blocking, "no clear research question found")
	}

	if satisfied < 4 {
		blocking = append(blocking, fmt.Sprintf("only %d/5 FINER criteria addressed (need >=4)", satisfied))
	}

	return models.ValidationResult{
		Passed:         len(blocking) == 0,
		Score:          ratio(checks),
		MissingItems:   missing,
		BlockingIssues: blocking,
		Details:        map[string]any{"checks": checks},
	}.Normalize()
}
