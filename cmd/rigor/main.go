package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/orchestrator"
	"github.com/rigorlab/rigor/pkg/persistence"
	"github.com/rigorlab/rigor/pkg/phase"
)

// Exit codes let shell drivers branch on the failure class.
const (
	exitOK                = 0
	exitError             = 1
	exitIllegalTransition = 2
	exitEntryBlocked      = 3
	exitEscalated         = 4
	exitStoreCorrupt      = 5
)

const defaultPort = 9092

func main() {
	cmd := &cli.Command{
		Name:                  "rigor",
		Usage:                 "Drive a research workflow through its stages",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "rigor.yaml",
				Sources: cli.EnvVars("RIGOR_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new workflow run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mode",
						Usage:   "Gating mode (interactive, autonomous)",
						Value:   string(models.ModeInteractive),
						Sources: cli.EnvVars("RIGOR_MODE"),
					},
					&cli.BoolFlag{
						Name:  "human-subjects",
						Usage: "Route the run through IRB approval",
					},
				},
				Action: runInit,
			},
			{
				Name:   "status",
				Usage:  "Show the run's current stage and convergence state",
				Action: runStatus,
			},
			{
				Name:   "iterate",
				Usage:  "Execute one convergence iteration for the current stage",
				Action: runIterate,
			},
			{
				Name:   "confirm",
				Usage:  "Confirm a pending stage advance (interactive mode)",
				Action: runConfirm,
			},
			{
				Name:   "complete",
				Usage:  "Mark the current human-action stage as done",
				Action: runComplete,
			},
			{
				Name:  "rollback",
				Usage: "Move backward along a whitelisted revision edge",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Target stage to roll back to",
						Required: true,
					},
				},
				Action: runRollback,
			},
			{
				Name:  "set-mode",
				Usage: "Switch the run's gating mode between iterations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "mode",
						Usage:    "Gating mode (interactive, autonomous)",
						Required: true,
					},
				},
				Action: runSetMode,
			},
			{
				Name:   "history",
				Usage:  "Print the run's stage history as JSON",
				Action: runHistory,
			},
			{
				Name:   "archive",
				Usage:  "Archive a terminally completed run",
				Action: runArchive,
			},
			{
				Name:  "serve",
				Usage: "Serve the read-only observer API",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to serve the observer API on",
						Value:   defaultPort,
						Sources: cli.EnvVars("PORT"),
					},
				},
				Action: runServe,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rigor:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error taxonomy onto process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case phase.IsIllegalTransition(err):
		return exitIllegalTransition
	case phase.IsEntryBlocked(err):
		return exitEntryBlocked
	case orchestrator.IsEscalated(err):
		return exitEscalated
	case persistence.IsStoreCorrupt(err):
		return exitStoreCorrupt
	default:
		return exitError
	}
}

func runInit(ctx context.Context, cmd *cli.Command) error {
	mode := models.Mode(cmd.String("mode"))
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", cmd.String("mode"))
	}

	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	run, err := a.orchestrator.Init(ctx, mode, cmd.Bool("human-subjects"))
	if err != nil {
		return err
	}

	fmt.Printf("initialized run %s in %s mode at %s\n", run.ID, run.Mode, run.CurrentStage)

	return nil
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	st, err := a.orchestrator.Status(ctx)
	if err != nil {
		return err
	}

	printStatus(st)

	return nil
}

func runIterate(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	result, err := a.orchestrator.RunIteration(ctx)
	if result != nil {
		fmt.Printf("iteration %d: score %.2f, decision %s\n",
			result.Iteration.Index, result.Validation.Score, result.Decision)

		if result.Remediation != nil {
			fmt.Printf("remediation: [%s] %s\n", result.Remediation.Category, result.Remediation.Description)
		}
	}

	return err
}

func runConfirm(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	st, err := a.orchestrator.ConfirmAdvance(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("advanced to %s\n", st.CurrentStage)

	return nil
}

func runComplete(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	result, err := a.orchestrator.MarkComplete(ctx)
	if result != nil {
		fmt.Printf("exit check: score %.2f, decision %s\n", result.Validation.Score, result.Decision)
	}

	return err
}

func runRollback(ctx context.Context, cmd *cli.Command) error {
	target, err := models.ParseStage(cmd.String("to"))
	if err != nil {
		return err
	}

	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	st, err := a.orchestrator.Rollback(ctx, target)
	if err != nil {
		return err
	}

	fmt.Printf("rolled back to %s\n", st.CurrentStage)

	return nil
}

func runSetMode(ctx context.Context, cmd *cli.Command) error {
	mode := models.Mode(cmd.String("mode"))
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", cmd.String("mode"))
	}

	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	st, err := a.orchestrator.SetMode(ctx, mode)
	if err != nil {
		return err
	}

	fmt.Printf("run %s now in %s mode\n", st.RunID, st.Mode)

	return nil
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	history, err := a.orchestrator.History(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(history)
}

func runArchive(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd.String("config"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if err := a.orchestrator.Archive(ctx); err != nil {
		return err
	}

	fmt.Println("run archived")

	return nil
}
