// Package script provides the shipped collaborator implementation: each
// collaborator is an executable under <projectRoot>/collaborators/<id> that
// deposits artifacts under the project root and prints a JSON object of
// artifact references on stdout.
//
// The contract keeps agent internals out of the orchestrator: any
// long-running or networked executor can be wrapped behind the same
// executable surface.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rigorlab/rigor/pkg/protocol"
)

// exitTempFail is the conventional sysexits code (EX_TEMPFAIL) a script uses
// to signal a retryable failure such as an unavailable upstream service.
const exitTempFail = 75

type Collaborator struct {
	id     string
	root   string
	logger *slog.Logger
}

func (c *Collaborator) ID() string { return c.id }

// Invoke runs the stage script. The context deadline cancels the process;
// a cancelled or failed run leaves previously deposited artifacts in place
// because scripts write artifacts before printing their manifest.
func (c *Collaborator) Invoke(ctx context.Context, req protocol.Request) (map[string]string, error) {
	path := filepath.Join(c.root, "collaborators", c.id)

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("collaborator script %s: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = c.root
	cmd.Env = append(os.Environ(),
		"RIGOR_RUN_ID="+req.RunID,
		"RIGOR_STAGE="+string(req.Stage),
		"RIGOR_PROJECT_ROOT="+c.root,
		"RIGOR_REMEDIATION="+req.Remediation,
	)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, protocol.Transient(fmt.Errorf("collaborator %s cancelled: %w", c.id, ctx.Err()))
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail {
			return nil, protocol.Transient(fmt.Errorf("collaborator %s reported temporary failure: %s", c.id, stderr.String()))
		}

		return nil, fmt.Errorf("collaborator %s failed: %w: %s", c.id, err, stderr.String())
	}

	artifacts := make(map[string]string)
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, &artifacts); err != nil {
			return nil, fmt.Errorf("collaborator %s produced invalid artifact manifest: %w", c.id, err)
		}
	}

	c.logger.Debug("collaborator finished", "collaborator", c.id, "stage", req.Stage, "artifacts", len(artifacts))

	return artifacts, nil
}

// Factory builds script collaborators for a fixed ID.
type Factory struct {
	id string
}

func NewFactory(id string) *Factory {
	return &Factory{id: id}
}

func (f *Factory) ID() string { return f.id }

func (f *Factory) Create(deps protocol.Dependencies) (protocol.Collaborator, error) {
	return &Collaborator{
		id:     f.id,
		root:   deps.ProjectRoot,
		logger: deps.Logger.With("module", "collaborator"),
	}, nil
}
