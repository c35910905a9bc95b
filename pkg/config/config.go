// Package config loads vecrank configuration from YAML files and
// VECRANK_* environment variables.
//
// Priority, highest first:
//  1. Command line flags (applied by the caller)
//  2. Environment variables
//  3. ./.vecrank.yaml
//  4. ~/.config/vecrank/config.yaml
//  5. Built-in defaults
//
// Example .vecrank.yaml:
//
//	store:
//	  driver: redis
//	  redis_url: redis://127.0.0.1:6379/0
//	embedder:
//	  provider: ollama
//	  model: all-minilm
//	  dimensions: 384
//	engine:
//	  backend: accelerator
//	gpu:
//	  enabled: true
//	  backend: cuda
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/orneryd/vecrank/pkg/embed"
	"github.com/orneryd/vecrank/pkg/gpu"
	"github.com/orneryd/vecrank/pkg/similarity"
	"github.com/orneryd/vecrank/pkg/storage"
)

// Config holds the complete application configuration
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Engine   EngineConfig   `yaml:"engine"`
	GPU      GPUConfig      `yaml:"gpu"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Corpus   CorpusConfig   `yaml:"corpus"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver   string `yaml:"driver"`    // badger|memory|sqlite|redis
	Path     string `yaml:"path"`      // badger directory or sqlite file
	RedisURL string `yaml:"redis_url"` // redis://host:port/db
}

// EmbedderConfig configures the embedding provider and query cache.
type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // ollama|openai
	URL        string        `yaml:"url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// EngineConfig configures ranking.
type EngineConfig struct {
	Backend string `yaml:"backend"` // cpu|accelerator
	Workers int    `yaml:"workers"` // CPU fan-out
	TopK    int    `yaml:"top_k"`
}

// GPUConfig configures the accelerator.
type GPUConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Backend          string `yaml:"backend"` // auto|cuda|opencl|emulator
	DeviceID         int    `yaml:"device_id"`
	EmulatorMemoryMB int    `yaml:"emulator_memory_mb"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// CorpusConfig configures indexing.
type CorpusConfig struct {
	Dir       string        `yaml:"dir"`
	BatchSize int           `yaml:"batch_size"`
	Debounce  time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	ollama := embed.DefaultOllamaConfig()
	return &Config{
		Store: StoreConfig{
			Driver: storage.DriverBadger,
			Path:   "./data",
		},
		Embedder: EmbedderConfig{
			Provider:   ollama.Provider,
			URL:        ollama.APIURL,
			Model:      ollama.Model,
			Dimensions: ollama.Dimensions,
			Timeout:    ollama.Timeout,
			CacheSize:  1000,
			CacheTTL:   10 * time.Minute,
		},
		Engine: EngineConfig{
			Backend: string(similarity.KindCPU),
			Workers: 4,
			TopK:    10,
		},
		GPU: GPUConfig{
			Enabled: true,
			Backend: string(gpu.BackendAuto),
		},
		Corpus: CorpusConfig{
			Dir:       "./texts",
			BatchSize: 32,
			Debounce:  500 * time.Millisecond,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case storage.DriverBadger, storage.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case storage.DriverMemory, storage.DriverRedis:
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: badger, memory, sqlite, redis)", c.Store.Driver)
	}

	switch c.Embedder.Provider {
	case embed.ProviderOllama:
	case embed.ProviderOpenAI:
		if c.Embedder.APIKey == "" {
			return fmt.Errorf("embedder.api_key is required for openai")
		}
	default:
		return fmt.Errorf("invalid embedder provider: %s (must be one of: ollama, openai)", c.Embedder.Provider)
	}
	if c.Embedder.Dimensions < 0 {
		return fmt.Errorf("embedder.dimensions must be non-negative")
	}
	if c.Embedder.CacheSize < 0 {
		return fmt.Errorf("embedder.cache_size must be non-negative")
	}

	if _, err := similarity.ParseKind(c.Engine.Backend); err != nil {
		return err
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be greater than 0")
	}
	if c.Engine.TopK < 0 {
		return fmt.Errorf("engine.top_k must be non-negative")
	}

	if _, err := gpu.ParseBackend(c.GPU.Backend); err != nil {
		return err
	}
	if c.GPU.DeviceID < 0 {
		return fmt.Errorf("gpu.device_id must be non-negative")
	}
	if c.GPU.EmulatorMemoryMB < 0 {
		return fmt.Errorf("gpu.emulator_memory_mb must be non-negative")
	}

	if c.Corpus.BatchSize < 1 {
		return fmt.Errorf("corpus.batch_size must be greater than 0")
	}
	return nil
}

// Storage converts the store section for storage.Open.
func (c *Config) Storage(logger *log.Logger) storage.Config {
	return storage.Config{
		Driver:   c.Store.Driver,
		Path:     expandPath(c.Store.Path),
		RedisURL: c.Store.RedisURL,
		Logger:   logger,
	}
}

// Embed converts the embedder section, filling the provider's
// default endpoint path.
func (c *Config) Embed() *embed.Config {
	var base *embed.Config
	if c.Embedder.Provider == embed.ProviderOpenAI {
		base = embed.DefaultOpenAIConfig(c.Embedder.APIKey)
	} else {
		base = embed.DefaultOllamaConfig()
	}
	if c.Embedder.URL != "" {
		base.APIURL = c.Embedder.URL
	}
	if c.Embedder.Model != "" {
		base.Model = c.Embedder.Model
	}
	if c.Embedder.Timeout > 0 {
		base.Timeout = c.Embedder.Timeout
	}
	base.Dimensions = c.Embedder.Dimensions
	return base
}

// Accelerator converts the gpu section.
func (c *Config) Accelerator() (*gpu.Config, error) {
	b, err := gpu.ParseBackend(c.GPU.Backend)
	if err != nil {
		return nil, err
	}
	return &gpu.Config{
		Enabled:          c.GPU.Enabled,
		PreferredBackend: b,
		DeviceID:         c.GPU.DeviceID,
		EmulatorMemoryMB: c.GPU.EmulatorMemoryMB,
	}, nil
}

// EngineKind returns the configured ranking backend.
func (c *Config) EngineKind() similarity.Kind {
	k, err := similarity.ParseKind(c.Engine.Backend)
	if err != nil {
		return similarity.KindCPU
	}
	return k
}
