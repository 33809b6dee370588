// Package web exposes the read-only observer API: live status and history
// queries that never contend with an in-flight advance operation, because
// they read the store's last committed document.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/rigorlab/rigor/pkg/orchestrator"
	"github.com/rigorlab/rigor/pkg/persistence"
)

type Handlers struct {
	store    persistence.StateStore
	registry orchestrator.Registry
	logger   *slog.Logger
}

func NewHandlers(store persistence.StateStore, reg orchestrator.Registry, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		registry: reg,
		logger:   logger.With("module", "web"),
	}
}

// Register mounts the observer routes on the app.
func (h *Handlers) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/run/status", h.GetStatus)
	app.Get("/run/history", h.GetHistory)
	app.Get("/run/audit", h.GetAudit)
}

func (h *Handlers) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) GetStatus(c fiber.Ctx) error {
	run, err := h.store.Load(c.Context())
	if err != nil {
		return h.storeError(c, err)
	}

	return c.JSON(orchestrator.StatusView(run, h.registry))
}

func (h *Handlers) GetHistory(c fiber.Ctx) error {
	run, err := h.store.Load(c.Context())
	if err != nil {
		return h.storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id":        run.ID,
		"stage_history": run.StageHistory,
	})
}

func (h *Handlers) GetAudit(c fiber.Ctx) error {
	run, err := h.store.Load(c.Context())
	if err != nil {
		return h.storeError(c, err)
	}

	return c.JSON(fiber.Map{
		"run_id":      run.ID,
		"audit_trail": run.AuditTrail,
	})
}

func (h *Handlers) storeError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsRunNotFound(err):
		return notFound(c, "no run initialized")
	case persistence.IsStoreCorrupt(err):
		return internalError(c, err)
	default:
		h.logger.Error("status query failed", "error", err)

		return internalError(c, err)
	}
}
