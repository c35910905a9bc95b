package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPaths defines the config file search paths in priority order
var ConfigPaths = []string{
	"./.vecrank.yaml",               // Project-specific config (highest priority)
	"~/.config/vecrank/config.yaml", // User config
}

// Loader handles configuration loading with priority merging
type Loader struct {
	configPaths []string
}

// NewLoader creates a new config loader
func NewLoader() *Loader {
	return &Loader{
		configPaths: ConfigPaths,
	}
}

// Load is NewLoader().LoadConfig(customPath).
func Load(customPath string) (*Config, error) {
	return NewLoader().LoadConfig(customPath)
}

// LoadConfig loads configuration from defaults, config files and
// environment, then validates it. A non-empty customPath replaces the
// search paths and must exist.
func (l *Loader) LoadConfig(customPath string) (*Config, error) {
	config := DefaultConfig()

	if customPath != "" {
		if err := validateConfigPath(customPath); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		if err := l.loadFromFile(config, customPath); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", customPath, err)
		}
	} else {
		// Lowest priority first so later files win.
		for i := len(l.configPaths) - 1; i >= 0; i-- {
			path := expandPath(l.configPaths[i])
			if !fileExists(path) {
				continue
			}
			if err := l.loadFromFile(config, path); err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// loadFromFile decodes a YAML file over config. Keys absent from the file
// keep their current value, so an explicit `enabled: false` is honoured.
func (l *Loader) loadFromFile(config *Config, path string) error {
	// #nosec G304 - path is validated by validateConfigPath() or fixed
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// envPrefix prefixes every environment override.
const envPrefix = "VECRANK_"

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(config *Config) error {
	envMappings := map[string]func(string) error{
		// Store
		"STORE_DRIVER":    func(v string) error { config.Store.Driver = v; return nil },
		"STORE_PATH":      func(v string) error { config.Store.Path = v; return nil },
		"STORE_REDIS_URL": func(v string) error { config.Store.RedisURL = v; return nil },

		// Embedder
		"EMBEDDER_PROVIDER":   func(v string) error { config.Embedder.Provider = v; return nil },
		"EMBEDDER_URL":        func(v string) error { config.Embedder.URL = v; return nil },
		"EMBEDDER_MODEL":      func(v string) error { config.Embedder.Model = v; return nil },
		"EMBEDDER_API_KEY":    func(v string) error { config.Embedder.APIKey = v; return nil },
		"EMBEDDER_DIMENSIONS": func(v string) error { return parseInt(v, &config.Embedder.Dimensions) },
		"EMBEDDER_TIMEOUT":    func(v string) error { return parseDuration(v, &config.Embedder.Timeout) },
		"EMBEDDER_CACHE_SIZE": func(v string) error { return parseInt(v, &config.Embedder.CacheSize) },
		"EMBEDDER_CACHE_TTL":  func(v string) error { return parseDuration(v, &config.Embedder.CacheTTL) },

		// Engine
		"ENGINE_BACKEND": func(v string) error { config.Engine.Backend = v; return nil },
		"ENGINE_WORKERS": func(v string) error { return parseInt(v, &config.Engine.Workers) },
		"ENGINE_TOP_K":   func(v string) error { return parseInt(v, &config.Engine.TopK) },

		// GPU
		"GPU_ENABLED":            func(v string) error { return parseBool(v, &config.GPU.Enabled) },
		"GPU_BACKEND":            func(v string) error { config.GPU.Backend = v; return nil },
		"GPU_DEVICE_ID":          func(v string) error { return parseInt(v, &config.GPU.DeviceID) },
		"GPU_EMULATOR_MEMORY_MB": func(v string) error { return parseInt(v, &config.GPU.EmulatorMemoryMB) },

		// Metrics
		"METRICS_ADDR": func(v string) error { config.Metrics.Addr = v; return nil },

		// Corpus
		"CORPUS_DIR":        func(v string) error { config.Corpus.Dir = v; return nil },
		"CORPUS_BATCH_SIZE": func(v string) error { return parseInt(v, &config.Corpus.BatchSize) },
		"CORPUS_DEBOUNCE":   func(v string) error { return parseDuration(v, &config.Corpus.Debounce) },
	}

	for name, setter := range envMappings {
		if value := os.Getenv(envPrefix + name); value != "" {
			if err := setter(value); err != nil {
				return fmt.Errorf("invalid value for %s%s: %w", envPrefix, name, err)
			}
		}
	}

	// The conventional variable, when nothing more specific is set.
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// GetConfigPaths returns the list of configuration file paths that will be searched
func GetConfigPaths() []string {
	paths := make([]string, 0, len(ConfigPaths))
	for _, path := range ConfigPaths {
		paths = append(paths, expandPath(path))
	}
	return paths
}

// validateConfigPath validates that a config path is safe to read
func validateConfigPath(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path traversal not allowed")
	}

	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config file must have .yaml or .yml extension")
	}
	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Type conversion helpers

func parseInt(s string, dst *int) error {
	val, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func parseBool(s string, dst *bool) error {
	val, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	val, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}
