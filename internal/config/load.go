package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore, e.g. ATE_TUNING__CORRELATION__MIN_SAMPLES=15.
const EnvPrefix = "ATE_"

// Load builds a Config by layering, lowest precedence first:
//  1. defaults
//  2. YAML file at $ATE_CONFIG, or ~/.adaptive-training/config.yaml if present
//  3. ATE_* environment variables
//
// ErrNoConfig is returned only when ATE_CONFIG names a missing file.
func Load() (*Config, error) {
	path := os.Getenv(EnvPrefix + "CONFIG")
	explicit := path != ""
	if !explicit {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
		if explicit {
			return nil, ErrNoConfig
		}
		path = ""
	}

	return LoadFile(path)
}

// LoadFile layers defaults, the YAML file at path (skipped when empty), and
// the environment.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := DefaultConfig()
	resetListOverrides(k, "tuning", &cfg.Tuning)
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.k = k

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resetListOverrides clears default lists that a layer replaces, so decoding
// swaps them wholesale instead of overlaying element by element.
func resetListOverrides(k *koanf.Koanf, prefix string, t *Tuning) {
	if k.Exists(prefix + ".plan.taper_depths") {
		t.Plan.TaperDepths = nil
	}
	if k.Exists(prefix + ".correlation.lags") {
		t.Correlation.Lags = nil
	}
	if k.Exists(prefix + ".correlation.outputs") {
		t.Correlation.Outputs = nil
	}
}

// GetConfigPath returns the default config file path
func GetConfigPath() (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// GetDataDir returns the data directory path
func GetDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".adaptive-training"), nil
}
