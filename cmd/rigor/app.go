package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rigorlab/rigor/pkg/collaborators/script"
	"github.com/rigorlab/rigor/pkg/config"
	"github.com/rigorlab/rigor/pkg/convergence"
	"github.com/rigorlab/rigor/pkg/invoker"
	"github.com/rigorlab/rigor/pkg/log"
	"github.com/rigorlab/rigor/pkg/orchestrator"
	"github.com/rigorlab/rigor/pkg/persistence"
	fileStore "github.com/rigorlab/rigor/pkg/persistence/file"
	"github.com/rigorlab/rigor/pkg/phase"
	"github.com/rigorlab/rigor/pkg/protocol"
	"github.com/rigorlab/rigor/pkg/registry"
)

// app wires one orchestrator instance for a single command invocation.
// Commands load state, act, persist, and exit; the pending-confirmation
// decision survives between invocations inside the run document.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	store        persistence.StateStore
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithModule("rigor")

	store, err := fileStore.New(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		store.Close(context.Background())

		return nil, err
	}

	machine := phase.NewMachine(logger)
	inv := invoker.New(cfg.Invoker, logger)
	controller := convergence.NewController(cfg.Convergence, inv, reg, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		registry:     reg,
		orchestrator: orchestrator.New(cfg, store, machine, controller, reg, logger),
	}, nil
}

func buildRegistry(cfg config.Config, logger *slog.Logger) (*registry.Registry, error) {
	deps := protocol.Dependencies{
		Logger:      logger,
		ProjectRoot: cfg.ProjectRoot,
	}

	factories := make([]protocol.CollaboratorFactory, 0)
	for _, id := range registry.CollaboratorIDs() {
		factories = append(factories, script.NewFactory(id))
	}

	return registry.New(deps, factories...)
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.logger.ErrorContext(ctx, "Failed to close store", "error", err)
	}
}

func printStatus(st *orchestrator.Status) {
	fmt.Printf("run:       %s\n", st.RunID)
	fmt.Printf("mode:      %s\n", st.Mode)
	fmt.Printf("stage:     %s\n", st.CurrentStage)
	fmt.Printf("progress:  %.0f%%\n", st.Progress*100)

	if st.Iterations > 0 {
		fmt.Printf("score:     %.2f after %d iteration(s)\n", st.LastScore, st.Iterations)
	}

	if st.HumanStage {
		fmt.Println("awaiting:  external human action (use 'rigor complete')")
	}

	if st.PendingConfirmation {
		fmt.Printf("pending:   advance to %s (use 'rigor confirm')\n", st.PendingTarget)
	}

	if st.RestoredFrom != "" {
		fmt.Printf("restored:  %s\n", st.RestoredFrom)
	}

	if st.Archived {
		fmt.Println("archived:  yes")
	}
}
