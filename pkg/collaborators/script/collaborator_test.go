package script

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/protocol"
)

func newScriptCollaborator(t *testing.T, id, body string) (*Collaborator, string) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "collaborators"), 0o750))

	path := filepath.Join(root, "collaborators", id)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o750))

	collab, err := NewFactory(id).Create(protocol.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, nil)),
		ProjectRoot: root,
	})
	require.NoError(t, err)

	return collab.(*Collaborator), root
}

func testScriptRequest() protocol.Request {
	return protocol.Request{
		RunID:       "run-1",
		Stage:       models.StageLiteratureReview,
		Remediation: "produce missing artifacts",
	}
}

func TestInvoke_ManifestOnStdout(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "literature-reviewer",
		`echo '{"search_results": "data/literature/search_results.csv"}'`)

	artifacts, err := collab.Invoke(context.Background(), testScriptRequest())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"search_results": "data/literature/search_results.csv"}, artifacts)
}

func TestInvoke_EnvironmentContract(t *testing.T) {
	collab, root := newScriptCollaborator(t, "literature-reviewer",
		`printf '%s\n%s\n%s\n%s\n' "$RIGOR_RUN_ID" "$RIGOR_STAGE" "$RIGOR_PROJECT_ROOT" "$RIGOR_REMEDIATION" > env.txt`)

	_, err := collab.Invoke(context.Background(), testScriptRequest())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "run-1\nliterature_review\n"+root+"\nproduce missing artifacts\n", string(data))
}

func TestInvoke_EmptyStdoutMeansNoArtifacts(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "gap-analyst", "exit 0")

	artifacts, err := collab.Invoke(context.Background(), testScriptRequest())

	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestInvoke_TempFailExitCodeIsTransient(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "data-analyst", "echo 'upstream down' >&2; exit 75")

	_, err := collab.Invoke(context.Background(), testScriptRequest())

	require.Error(t, err)

	var transient *protocol.TransientError
	assert.True(t, errors.As(err, &transient))
}

func TestInvoke_OtherFailuresArePermanent(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "data-analyst", "echo 'bad input' >&2; exit 1")

	_, err := collab.Invoke(context.Background(), testScriptRequest())

	require.Error(t, err)

	var transient *protocol.TransientError
	assert.False(t, errors.As(err, &transient))
	assert.Contains(t, err.Error(), "bad input")
}

func TestInvoke_InvalidManifest(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "manuscript-writer", "echo 'not json'")

	_, err := collab.Invoke(context.Background(), testScriptRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid artifact manifest")
}

func TestInvoke_MissingScript(t *testing.T) {
	collab, err := NewFactory("absent").Create(protocol.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(os.Stdout, nil)),
		ProjectRoot: t.TempDir(),
	})
	require.NoError(t, err)

	_, err = collab.Invoke(context.Background(), testScriptRequest())
	assert.Error(t, err)
}

func TestInvoke_CancellationIsTransient(t *testing.T) {
	collab, _ := newScriptCollaborator(t, "experiment-designer", "sleep 10")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := collab.Invoke(ctx, testScriptRequest())

	require.Error(t, err)

	var transient *protocol.TransientError
	assert.True(t, errors.As(err, &transient))
}
