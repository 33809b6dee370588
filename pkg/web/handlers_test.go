package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/models"
	fileStore "github.com/rigorlab/rigor/pkg/persistence/file"
	"github.com/rigorlab/rigor/pkg/protocol"
)

type fakeRegistry struct{}

func (fakeRegistry) ValidatorFor(_ models.Stage) protocol.Validator { return nil }

func (fakeRegistry) HumanStage(stage models.Stage) bool {
	return stage == models.StageProblemFormulation
}

func newTestApp(t *testing.T, run *models.Run) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Store{Dir: t.TempDir(), StalenessBound: time.Hour, KeepSnapshots: 3}

	if run != nil {
		writer, err := fileStore.New(cfg, logger)
		require.NoError(t, err)
		require.NoError(t, writer.Save(context.Background(), run))
		require.NoError(t, writer.Close(context.Background()))
	}

	store, err := fileStore.NewReadOnly(cfg, logger)
	require.NoError(t, err)

	app := fiber.New()
	NewHandlers(store, fakeRegistry{}, logger).Register(app)

	return app
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestGetStatus_NoRun(t *testing.T) {
	app := newTestApp(t, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/run/status", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetStatus_ReturnsCommittedState(t *testing.T) {
	run := models.NewRun(models.ModeInteractive, true)
	app := newTestApp(t, run)

	resp, err := app.Test(httptest.NewRequest("GET", "/run/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, run.ID, body["run_id"])
	assert.Equal(t, "interactive", body["mode"])
	assert.Equal(t, "problem_formulation", body["current_stage"])
	assert.Equal(t, true, body["human_stage"])
}

func TestGetHistory(t *testing.T) {
	run := models.NewRun(models.ModeAutonomous, false)
	app := newTestApp(t, run)

	resp, err := app.Test(httptest.NewRequest("GET", "/run/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		RunID        string                `json:"run_id"`
		StageHistory []*models.StageRecord `json:"stage_history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, run.ID, body.RunID)
	require.Len(t, body.StageHistory, 1)
	assert.Equal(t, models.StageProblemFormulation, body.StageHistory[0].Stage)
}

func TestGetAudit(t *testing.T) {
	run := models.NewRun(models.ModeAutonomous, false)
	run.Audit("run_initialized", run.CurrentStage, nil)
	app := newTestApp(t, run)

	resp, err := app.Test(httptest.NewRequest("GET", "/run/audit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
