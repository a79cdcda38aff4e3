package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides applied after the file.
const (
	EnvEndpoint = "OPENAI_ENDPOINT"
	EnvModel    = "OPENAI_MODEL"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load reads .env files, then resolves, parses, and validates the runtime configuration.
// Variables already present in the environment win over .env entries.
func Load(explicitPath string, envFiles ...string) (Loaded, error) {
	if err := loadDotenv(envFiles...); err != nil {
		return Loaded{}, err
	}

	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}
		cfg, envWarnings, err := applyEnv(base, os.Getenv)
		if err != nil {
			return Loaded{}, err
		}
		warnings := append([]Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		}}, envWarnings...)
		return Loaded{
			Path:     resolvedPath,
			Config:   cfg,
			Warnings: dedupeWarnings(warnings),
			Exists:   false,
		}, nil
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}
	cfg, envWarnings, err := applyEnv(cfg, os.Getenv)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: dedupeWarnings(append(warnings, envWarnings...)),
		Exists:   true,
	}, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", file, err)
		}
	}
	return nil
}

// applyEnv overlays endpoint/model overrides and resolves the API key.
func applyEnv(cfg Config, getenv func(string) string) (Config, []Warning, error) {
	var warnings []Warning
	overridden := false

	if v := strings.TrimSpace(getenv(EnvEndpoint)); v != "" {
		cfg.Realtime.Endpoint = v
		overridden = true
	}
	if v := strings.TrimSpace(getenv(EnvModel)); v != "" {
		cfg.Realtime.Model = v
		overridden = true
	}
	cfg.APIKey = strings.TrimSpace(getenv(cfg.Realtime.APIKeyEnv))
	if cfg.APIKey == "" {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("%s is not set; sessions will fail to authenticate", cfg.Realtime.APIKeyEnv)})
	}

	if overridden {
		more, err := Validate(cfg)
		if err != nil {
			return Config{}, nil, fmt.Errorf("environment override: %w", err)
		}
		warnings = append(warnings, more...)
	}
	return cfg, warnings, nil
}

func dedupeWarnings(warnings []Warning) []Warning {
	seen := make(map[Warning]bool, len(warnings))
	out := warnings[:0]
	for _, w := range warnings {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
