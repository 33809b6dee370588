package validators

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigorlab/rigor/pkg/models"
)

// writeArtifact creates rel under root, including parent directories.
func writeArtifact(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func csvRows(header string, rows int) string {
	var b strings.Builder

	b.WriteString(header + "\n")

	for i := 0; i < rows; i++ {
		b.WriteString("row\n")
	}

	return b.String()
}

func completedRun(t *testing.T, stages ...models.Stage) *models.Run {
	t.Helper()

	run := models.NewRun(models.ModeAutonomous, true)
	for _, stage := range stages {
		require.NoError(t, run.CloseStage(models.OutcomeAdvanced, ""))
		run.EnterStage(stage)
	}

	return run
}

func TestFINER_MissingStatementBlocks(t *testing.T) {
	v := NewFINER(t.TempDir())

	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.Zero(t, result.Score)
	assert.Contains(t, result.MissingItems, "docs/problem_statement.md")
	require.NotEmpty(t, result.BlockingIssues)
}

func TestFINER_PassesWithQuestionAndFourCriteria(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/problem_statement.md", `
# Research Question

Does X affect Y?

The study is feasible with current resources, novel in its approach,
ethical by design review, and relevant to the field.
`)

	v := NewFINER(root)
	result := v.ExitCheck(nil)

	assert.True(t, result.Passed, "4/5 criteria plus a question should pass: %v", result.BlockingIssues)
	assert.InDelta(t, 5.0/6.0, result.Score, 1e-9)
	assert.Contains(t, result.MissingItems[0], "interesting")
}

func TestFINER_FailsBelowFourCriteria(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/problem_statement.md", "Does X affect Y? The plan is feasible and novel.")

	v := NewFINER(root)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.BlockingIssues)
	assert.Greater(t, result.Score, 0.0, "partial credit for addressed criteria")
}

func TestFINER_FailsWithoutResearchQuestion(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/problem_statement.md", "A feasible, interesting, novel, ethical and relevant plan.")

	v := NewFINER(root)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.Contains(t, result.BlockingIssues[0], "research question")
}

func TestPRISMA_EntryRequiresProblemFormulation(t *testing.T) {
	v := NewPRISMA(t.TempDir())

	fresh := models.NewRun(models.ModeAutonomous, true)
	assert.False(t, v.EntryCheck(fresh).Passed)

	ready := completedRun(t, models.StageLiteratureReview)
	assert.True(t, v.EntryCheck(ready).Passed)
}

func TestPRISMA_AllFilesPassStudyCountOnlyWarns(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "data/literature/search_results.csv", csvRows("title", 40))
	writeArtifact(t, root, "data/literature/screened_abstracts.csv", csvRows("title", 25))
	writeArtifact(t, root, "data/literature/included_studies.csv", csvRows("title", 4))
	writeArtifact(t, root, "results/prisma_flow_diagram.md", "# PRISMA flow")

	v := NewPRISMA(root)
	result := v.ExitCheck(nil)

	assert.True(t, result.Passed, "low study count warns, it does not block")
	assert.NotEmpty(t, result.Warnings)
	assert.Less(t, result.Score, 1.0)
}

func TestPRISMA_MissingRequiredFileFails(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "data/literature/search_results.csv", csvRows("title", 40))

	v := NewPRISMA(root)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.Len(t, result.MissingItems, 3)
}

func TestPRISMA_FullCompliance(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "data/literature/search_results.csv", csvRows("title", 120))
	writeArtifact(t, root, "data/literature/screened_abstracts.csv", csvRows("title", 60))
	writeArtifact(t, root, "data/literature/included_studies.csv", csvRows("title", 15))
	writeArtifact(t, root, "results/prisma_flow_diagram.md", "# PRISMA flow")
	writeArtifact(t, root, "results/risk_of_bias_assessment.csv", csvRows("study", 15))

	v := NewPRISMA(root)
	result := v.ExitCheck(nil)

	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Score)
	assert.Empty(t, result.Warnings)
}

func TestNIHRigor_EntryRequiresHypotheses(t *testing.T) {
	v := NewNIHRigor(t.TempDir())

	fresh := models.NewRun(models.ModeAutonomous, true)
	assert.False(t, v.EntryCheck(fresh).Passed)

	ready := completedRun(t, models.StageHypothesisFormation, models.StageExperimentalDesign)
	assert.True(t, v.EntryCheck(ready).Passed)
}

func TestNIHRigor_CoreRequirements(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/experimental_protocol.md", "Protocol includes both sexes in the sample.")
	writeArtifact(t, root, "docs/power_analysis.md", "Statistical power = 0.85 at alpha 0.05")
	writeArtifact(t, root, "code/randomization.py", "random.seed(42)\n")

	v := NewNIHRigor(root)
	result := v.ExitCheck(nil)

	assert.True(t, result.Passed)
	assert.NotEmpty(t, result.Warnings, "missing pre-registration warns")
}

func TestNIHRigor_UnseededRandomizationBlocks(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/experimental_protocol.md", "Protocol covers male and female cohorts.")
	writeArtifact(t, root, "docs/power_analysis.md", "Statistical power = 0.85")
	writeArtifact(t, root, "code/randomization.py", "random.shuffle(subjects)\n")

	v := NewNIHRigor(root)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.Contains(t, result.BlockingIssues[0], "core NIH requirements")
}

func TestNIHRigor_LowPowerBlocks(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "docs/experimental_protocol.md", "Protocol, both sexes.")
	writeArtifact(t, root, "docs/power_analysis.md", "Statistical power = 0.60")
	writeArtifact(t, root, "code/randomization.py", "random.seed(7)\n")

	v := NewNIHRigor(root)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
}

func TestCompletion_ScoresExpectedOutputs(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "results/analysis_report.md", "# Results")

	v := NewCompletion(root, models.StageAnalysis)
	result := v.ExitCheck(nil)

	assert.False(t, result.Passed)
	assert.Equal(t, 0.5, result.Score)
	assert.Equal(t, []string{"code/analysis.py"}, result.MissingItems)

	writeArtifact(t, root, "code/analysis.py", "print('ok')")

	result = v.ExitCheck(nil)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.Score)
}

func TestCompletion_EntryRequiresPreviousStage(t *testing.T) {
	v := NewCompletion(t.TempDir(), models.StageGapAnalysis)

	fresh := models.NewRun(models.ModeAutonomous, true)
	result := v.EntryCheck(fresh)
	assert.False(t, result.Passed)
	assert.Contains(t, result.BlockingIssues[0], "literature_review")

	ready := completedRun(t, models.StageLiteratureReview)
	require.NoError(t, ready.CloseStage(models.OutcomeAdvanced, ""))
	ready.EnterStage(models.StageGapAnalysis)
	assert.True(t, v.EntryCheck(ready).Passed)
}

func TestCompletion_DataCollectionEntrySkipsIRBWithoutHumanSubjects(t *testing.T) {
	v := NewCompletion(t.TempDir(), models.StageDataCollection)

	run := models.NewRun(models.ModeAutonomous, false)
	for _, stage := range []models.Stage{
		models.StageLiteratureReview,
		models.StageGapAnalysis,
		models.StageHypothesisFormation,
		models.StageExperimentalDesign,
	} {
		require.NoError(t, run.CloseStage(models.OutcomeAdvanced, ""))
		run.EnterStage(stage)
	}

	require.NoError(t, run.CloseStage(models.OutcomeAdvanced, ""))
	run.EnterStage(models.StageDataCollection)

	assert.True(t, v.EntryCheck(run).Passed, "non-human-subjects runs skip irb_approval")
}
