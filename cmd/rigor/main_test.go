package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/orchestrator"
	"github.com/rigorlab/rigor/pkg/persistence"
	"github.com/rigorlab/rigor/pkg/phase"
)

func TestExitCode(t *testing.T) {
	illegal := &phase.TransitionError{
		From: models.StageProblemFormulation,
		To:   models.StageAnalysis,
		Err:  phase.ErrIllegalTransition,
	}
	blocked := &phase.TransitionError{
		From: models.StageIRBApproval,
		To:   models.StageDataCollection,
		Err:  phase.ErrEntryBlocked,
	}

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"no error", nil, exitOK},
		{"illegal transition", illegal, exitIllegalTransition},
		{"entry blocked", blocked, exitEntryBlocked},
		{"escalated", fmt.Errorf("stage analysis: %w", orchestrator.ErrEscalated), exitEscalated},
		{"store corrupt", fmt.Errorf("load: %w", persistence.ErrStoreCorrupt), exitStoreCorrupt},
		{"anything else", errors.New("boom"), exitError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, exitCode(tc.err))
		})
	}
}
