package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RIGOR_"

// Load builds the configuration from, in increasing precedence:
// built-in defaults, the YAML file at configPath (skipped when absent),
// and RIGOR_* environment variables.
//
// Environment variables map underscore-separated segments onto the config
// tree: RIGOR_CONVERGENCE_STABILITY_DELTA -> convergence.stability_delta.
func Load(configPath string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnv), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// transformEnv maps RIGOR_* variables onto config keys. The first segment
// selects the section; the remainder joins into the field name, so compound
// field names keep their underscores.
//
//	RIGOR_MODE                               -> mode
//	RIGOR_STORE_DIR                          -> store.dir
//	RIGOR_CONVERGENCE_MAX_ITERATIONS_PER_STAGE -> convergence.max_iterations_per_stage
func transformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))

	sections := []string{"convergence", "invoker", "store"}
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}

	return s
}
