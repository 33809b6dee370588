package convergence

import (
	"fmt"
	"strings"

	"github.com/rigorlab/rigor/pkg/models"
)

// Action is a categorized fix suggestion derived from a failed validation.
// AutoApplicable actions are fed back into the next collaborator invocation
// without operator involvement when the run is autonomous.
type Action struct {
	Category       string
	Description    string
	AutoApplicable bool
}

// deriveRemediation keys a suggestion off the validation diagnostics.
// Missing artifacts and unmet checklist items can be retried by the
// collaborator; anything that only reports blocking issues needs the
// operator.
func deriveRemediation(stage models.Stage, v models.ValidationResult) *Action {
	if len(v.MissingItems) > 0 {
		artifactLike := false

		for _, item := range v.MissingItems {
			if strings.Contains(item, "/") {
				artifactLike = true

				break
			}
		}

		if artifactLike {
			return &Action{
				Category:       "missing-artifact",
				Description:    fmt.Sprintf("produce missing %s artifacts: %s", stage, strings.Join(v.MissingItems, "; ")),
				AutoApplicable: true,
			}
		}

		return &Action{
			Category:       "coverage",
			Description:    fmt.Sprintf("address unmet %s checklist items: %s", stage, strings.Join(v.MissingItems, "; ")),
			AutoApplicable: true,
		}
	}

	if len(v.BlockingIssues) > 0 {
		return &Action{
			Category:       "blocking",
			Description:    fmt.Sprintf("resolve blocking issues for %s: %s", stage, strings.Join(v.BlockingIssues, "; ")),
			AutoApplicable: false,
		}
	}

	return &Action{
		Category:       "quality",
		Description:    fmt.Sprintf("improve %s outputs toward the exit threshold", stage),
		AutoApplicable: true,
	}
}
