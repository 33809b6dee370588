// Package registry resolves the closed stage-to-validator and
// stage-to-collaborator tables once at configuration load. There is no
// runtime string matching: an unmapped stage is a human-action stage.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/rigorlab/rigor/pkg/models"
	"github.com/rigorlab/rigor/pkg/protocol"
	"github.com/rigorlab/rigor/pkg/validators"
)

// stageCollaborators is the static stage -> collaborator table. Stages that
// map to nothing require external human action: the orchestrator waits for
// an explicit mark-complete signal instead of invoking anything.
var stageCollaborators = map[models.Stage]string{
	models.StageLiteratureReview:    "literature-reviewer",
	models.StageGapAnalysis:         "gap-analyst",
	models.StageHypothesisFormation: "hypothesis-generator",
	models.StageExperimentalDesign:  "experiment-designer",
	models.StageAnalysis:            "data-analyst",
	models.StageInterpretation:      "quality-assurance",
	models.StageWriting:             "manuscript-writer",
	models.StagePublication:         "quality-assurance",
}

// Registry holds the resolved per-stage validators and collaborators.
type Registry struct {
	logger        *slog.Logger
	validators    map[models.Stage]protocol.Validator
	collaborators map[models.Stage]protocol.Collaborator
}

// New resolves every stage against the given collaborator factories.
// A stage whose mapped collaborator ID has no registered factory is a
// configuration error, surfaced at load rather than at invocation time.
func New(deps protocol.Dependencies, factories ...protocol.CollaboratorFactory) (*Registry, error) {
	byID := make(map[string]protocol.CollaboratorFactory, len(factories))
	for _, f := range factories {
		byID[f.ID()] = f
	}

	r := &Registry{
		logger:        deps.Logger.With("module", "registry"),
		validators:    make(map[models.Stage]protocol.Validator),
		collaborators: make(map[models.Stage]protocol.Collaborator),
	}

	// Collaborators built once; instances are reused across iterations.
	built := make(map[string]protocol.Collaborator)

	for stage, id := range stageCollaborators {
		if c, ok := built[id]; ok {
			r.collaborators[stage] = c

			continue
		}

		factory, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("stage %s maps to collaborator %q but no factory is registered", stage, id)
		}

		c, err := factory.Create(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create collaborator %q: %w", id, err)
		}

		built[id] = c
		r.collaborators[stage] = c
	}

	root := deps.ProjectRoot

	for _, stage := range models.Stages() {
		switch stage {
		case models.StageProblemFormulation:
			r.validators[stage] = validators.NewFINER(root)
		case models.StageLiteratureReview:
			r.validators[stage] = validators.NewPRISMA(root)
		case models.StageExperimentalDesign:
			r.validators[stage] = validators.NewNIHRigor(root)
		default:
			r.validators[stage] = validators.NewCompletion(root, stage)
		}
	}

	return r, nil
}

// CollaboratorIDs returns the distinct collaborator IDs the stage table
// references. Callers use it to register one factory per ID.
func CollaboratorIDs() []string {
	seen := make(map[string]bool, len(stageCollaborators))
	ids := make([]string, 0, len(stageCollaborators))

	for _, id := range stageCollaborators {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return ids
}

// ValidatorFor returns the validator gating the given stage. Every stage has
// one.
func (r *Registry) ValidatorFor(stage models.Stage) protocol.Validator {
	return r.validators[stage]
}

// CollaboratorFor returns the collaborator for a stage. ok is false for
// human-action stages.
func (r *Registry) CollaboratorFor(stage models.Stage) (protocol.Collaborator, bool) {
	c, ok := r.collaborators[stage]

	return c, ok
}

// HumanStage reports whether the stage requires only external human action.
func (r *Registry) HumanStage(stage models.Stage) bool {
	_, ok := stageCollaborators[stage]

	return !ok
}
