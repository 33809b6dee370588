package validators

import (
	"fmt"
	"regexp"

	"github.com/rigorlab/rigor/pkg/models"
)

// nihRequiredFiles are the experimental design artifacts required before the
// stage can close.
var nihRequiredFiles = []string{
	"docs/experimental_protocol.md",
	"docs/power_analysis.md",
	"code/randomization.py",
}

const preregistrationPath = "data/preregistration.md"

var (
	// powerRe matches a stated statistical power of at least 80%.
	powerRe = regexp.MustCompile(`(?i)power[^\n]*(0\.[89]\d*|[89]\d%|100%)`)
	seedRe  = regexp.MustCompile(`(?i)seed\s*[=(:]\s*\d+`)
	sabvRe  = regexp.MustCompile(`(?i)(sex as a biological variable|sabv|both sexes|male and female)`)
)

// NIHRigor validates the experimental_design stage against the NIH rigor and
// reproducibility pillars: scientific rigor, SABV, reproducibility, and
// authentication.
type NIHRigor struct {
	artifactChecks
}

func NewNIHRigor(projectRoot string) *NIHRigor {
	return &NIHRigor{artifactChecks{root: projectRoot}}
}

// EntryCheck requires formulated hypotheses.
func (v *NIHRigor) EntryCheck(run *models.Run) models.ValidationResult {
	if !run.HasCompleted(models.StageHypothesisFormation) {
		return models.Block("hypothesis formation must be complete first")
	}

	return models.Pass()
}

// ExitCheck requires the design artifacts plus the core rigor requirements:
// adequate statistical power and a seeded randomization protocol.
// Pre-registration and SABV coverage contribute to the score.
func (v *NIHRigor) ExitCheck(_ *models.Run) models.ValidationResult {
	checks := make(map[string]bool, len(nihRequiredFiles)+4)

	var missing, warnings, blocking []string

	for _, rel := range nihRequiredFiles {
		ok := v.fileExists(rel)
		checks["file_"+rel] = ok

		if !ok {
			missing = append(missing, rel)
		}
	}

	checks["power_analysis"] = v.fileMatches("docs/power_analysis.md", powerRe)
	checks["random_seed"] = v.fileMatches("code/randomization.py", seedRe)

	checks["preregistration"] = v.fileExists(preregistrationPath)
	if !checks["preregistration"] {
		warnings = append(warnings, "pre-registration document recommended")
	}

	checks["sabv"] = v.fileMatches("docs/experimental_protocol.md", sabvRe)
	if !checks["sabv"] {
		missing = append(missing, "sex as biological variable not addressed in protocol")
	}

	corePassed := checks["power_analysis"] && checks["random_seed"]
	filesPassed := true

	for _, rel := range nihRequiredFiles {
		if !checks["file_"+rel] {
			filesPassed = false
		}
	}

	if !corePassed {
		blocking = append(blocking, "core NIH requirements not met (power analysis >=80%, seeded randomization)")
	}

	if !filesPassed {
		blocking = append(blocking, fmt.Sprintf("%d required files missing", len(missing)))
	}

	return models.ValidationResult{
		Passed:         corePassed && filesPassed,
		Score:          ratio(checks),
		MissingItems:   missing,
		Warnings:       warnings,
		BlockingIssues: blocking,
		Details:        map[string]any{"checks": checks},
	}.Normalize()
}
