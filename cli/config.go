package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "inspector.yaml"
	homeConfigDir     = ".sierradb-inspector"
	homeConfigName    = "config.yaml"
)

// Config is the declarative startup config shape for inspector commands.
// Flags take precedence over file values; file values take precedence over
// defaults.
type Config struct {
	// Store is the event database DSN (a file path or ":memory:").
	Store string `yaml:"store,omitempty"`

	// Partitions is used when seeding creates a new store.
	Partitions int `yaml:"partitions,omitempty"`

	// Concurrency bounds parallel partition processing during runs.
	Concurrency int `yaml:"concurrency,omitempty"`

	// BatchSize is the event fetch page size.
	BatchSize int `yaml:"batch_size,omitempty"`

	// SampleCap bounds debug session sample size.
	SampleCap int `yaml:"sample_cap,omitempty"`

	// TraceEndpoint is an OTLP/HTTP collector URL. Empty disables tracing.
	TraceEndpoint string `yaml:"trace_endpoint,omitempty"`
}

// DiscoverConfigPath resolves the config file location with first-match
// semantics: an explicit path wins, then inspector.yaml in the working
// directory, then config.yaml under the user config dir.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		// An explicit path that does not exist is an error; fallthrough
		// candidates are optional.
		if explicitPath != "" && i == 0 {
			if errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %s", candidate)
			}
			return "", false, fmt.Errorf("stat config file: %w", err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path) // #nosec G304 -- path from discovery or user flag
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// loadDiscoveredConfig loads config from the discovered path, returning a
// zero Config when no file exists.
func loadDiscoveredConfig(explicitPath string) (Config, error) {
	path, found, err := DiscoverConfigPath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Config{}, nil
	}
	return LoadConfig(path)
}
