package validators

import (
	"fmt"

	"github.com/rigorlab/rigor/pkg/models"
)

// prismaRequiredFiles are the artifacts a PRISMA 2020 systematic review must
// deposit before the literature_review stage can close.
var prismaRequiredFiles = []string{
	"data/literature/search_results.csv",
	"data/literature/screened_abstracts.csv",
	"data/literature/included_studies.csv",
	"results/prisma_flow_diagram.md",
}

const (
	includedStudiesPath = "data/literature/included_studies.csv"
	riskOfBiasPath      = "results/risk_of_bias_assessment.csv"
	minIncludedStudies  = 10
)

// PRISMA validates the literature_review stage against PRISMA 2020.
type PRISMA struct {
	artifactChecks
}

func NewPRISMA(projectRoot string) *PRISMA {
	return &PRISMA{artifactChecks{root: projectRoot}}
}

// EntryCheck requires a completed problem formulation.
func (v *PRISMA) EntryCheck(run *models.Run) models.ValidationResult {
	if !run.HasCompleted(models.StageProblemFormulation) {
		return models.Block("problem formulation must be complete first")
	}

	return models.Pass()
}

// ExitCheck passes when every required artifact is present. Study count and
// risk-of-bias assessment contribute to the score but only warn.
func (v *PRISMA) ExitCheck(_ *models.Run) models.ValidationResult {
	checks := make(map[string]bool, len(prismaRequiredFiles)+2)

	var missing, warnings, blocking []string

	for _, rel := range prismaRequiredFiles {
		ok := v.fileExists(rel)
		checks["file_"+rel] = ok

		if !ok {
			missing = append(missing, rel)
		}
	}

	studyCount := v.countCSVRows(includedStudiesPath)
	checks["minimum_studies"] = studyCount >= minIncludedStudies

	if studyCount < minIncludedStudies {
		warnings = append(warnings, fmt.Sprintf("only %d included studies (recommend >=%d)", studyCount, minIncludedStudies))
	}

	checks["risk_of_bias"] = v.fileExists(riskOfBiasPath)
	if !checks["risk_of_bias"] {
		warnings = append(warnings, "risk of bias assessment not found (recommended)")
	}

	if len(missing) > 0 {
		blocking = append(blocking, fmt.Sprintf("%d required files missing", len(missing)))
	}

	return models.ValidationResult{
		Passed:         len(missing) == 0,
		Score:          ratio(checks),
		MissingItems:   missing,
		Warnings:       warnings,
		BlockingIssues: blocking,
		Details:        map[string]any{"checks": checks, "included_studies": studyCount},
	}.Normalize()
}
