// Package config loads and validates orchestrator configuration.
package config

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rigorlab/rigor/pkg/models"
)

// Convergence holds the per-stage iteration loop tuning. The numeric values
// are configuration, not load-bearing constants.
type Convergence struct {
	// PhaseThresholds maps stage name to the exit score required to advance.
	// Stages not listed use DefaultThreshold.
	PhaseThresholds  map[string]float64 `koanf:"phase_thresholds"  validate:"dive,gte=0,lte=1"`
	DefaultThreshold float64            `koanf:"default_threshold" validate:"gte=0,lte=1"`

	MaxIterationsPerStage    int     `koanf:"max_iterations_per_stage"    validate:"gte=1"`
	StabilityWindow          int     `koanf:"stability_window"            validate:"gte=1"`
	StabilityDelta           float64 `koanf:"stability_delta"             validate:"gt=0,lte=1"`
	MinimumAcceptableScore   float64 `koanf:"minimum_acceptable_score"    validate:"gte=0,lte=1"`
	AcceptPartialAtIteration int     `koanf:"accept_partial_at_iteration" validate:"gte=1"`
	EscalateAtIteration      int     `koanf:"escalate_at_iteration"       validate:"gte=1"`
}

// Invoker holds collaborator invocation limits.
type Invoker struct {
	Timeout     time.Duration `koanf:"timeout"      validate:"gt=0"`
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=1"`
}

// Store holds state-store settings.
type Store struct {
	Dir            string        `koanf:"dir"             validate:"required"`
	StalenessBound time.Duration `koanf:"staleness_bound" validate:"gt=0"`
	KeepSnapshots  int           `koanf:"keep_snapshots"  validate:"gte=1"`
}

// Config is the process-wide configuration, loaded once at run start and
// read-only thereafter.
type Config struct {
	Mode        string      `koanf:"mode" validate:"required,oneof=interactive autonomous"`
	LogLevel    string      `koanf:"log_level"`
	ProjectRoot string      `koanf:"project_root" validate:"required"`
	Convergence Convergence `koanf:"convergence"`
	Invoker     Invoker     `koanf:"invoker"`
	Store       Store       `koanf:"store"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Mode:        string(models.ModeInteractive),
		LogLevel:    "info",
		ProjectRoot: ".",
		Convergence: Convergence{
			PhaseThresholds:          map[string]float64{},
			DefaultThreshold:         0.8,
			MaxIterationsPerStage:    5,
			StabilityWindow:          3,
			StabilityDelta:           0.05,
			MinimumAcceptableScore:   0.6,
			AcceptPartialAtIteration: 4,
			EscalateAtIteration:      5,
		},
		Invoker: Invoker{
			Timeout:     10 * time.Minute,
			MaxAttempts: 3,
		},
		Store: Store{
			Dir:            ".rigor",
			StalenessBound: 30 * 24 * time.Hour,
			KeepSnapshots:  20,
		},
	}
}

// ThresholdFor returns the exit threshold for a stage.
func (c Convergence) ThresholdFor(stage models.Stage) float64 {
	if t, ok := c.PhaseThresholds[string(stage)]; ok {
		return t
	}

	return c.DefaultThreshold
}

// Validate checks the configuration for structural errors.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}
