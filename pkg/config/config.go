// Package config loads service configuration from file and environment with
// viper. Every recognized key has a default; environment variables override
// file values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Graph    GraphConfig    `mapstructure:"graph"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Ontology OntologyConfig `mapstructure:"ontology"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// Addr renders the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GraphConfig holds graph store connection settings. Driver "memory" selects
// the in-process store for development.
type GraphConfig struct {
	Driver         string `mapstructure:"driver"` // neo4j or memory
	URL            string `mapstructure:"graph_store_url"`
	User           string `mapstructure:"graph_store_user"`
	Password       string `mapstructure:"graph_store_password"`
	Database       string `mapstructure:"database"`
	QueryTimeoutMs int    `mapstructure:"query_timeout_ms"`
}

// QueryTimeout returns the per-query deadline as a duration.
func (c GraphConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// LLMConfig holds language model provider settings and the retry schedule.
type LLMConfig struct {
	Model           string  `mapstructure:"llm_model"`
	BaseURL         string  `mapstructure:"llm_provider_base_url"`
	APIKey          string  `mapstructure:"llm_api_key"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	RetryBaseMs     int     `mapstructure:"llm_retry_base_ms"`
	RetryCapMs      int     `mapstructure:"llm_retry_cap_ms"`
	RetryMaxAttempt int     `mapstructure:"llm_retry_max_attempts"`
	TimeoutMs       int     `mapstructure:"llm_timeout_ms"`
}

// Timeout returns the per-call deadline as a duration.
func (c LLMConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// RetryBase returns the backoff base as a duration.
func (c LLMConfig) RetryBase() time.Duration { return time.Duration(c.RetryBaseMs) * time.Millisecond }

// RetryCap returns the backoff cap as a duration.
func (c LLMConfig) RetryCap() time.Duration { return time.Duration(c.RetryCapMs) * time.Millisecond }

// EmbedderConfig holds embedding provider settings.
type EmbedderConfig struct {
	Model     string `mapstructure:"embedding_model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	VectorDim int    `mapstructure:"vector_dim"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// Timeout returns the per-call deadline as a duration.
func (c EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// IngestConfig tunes the episode queue.
type IngestConfig struct {
	MaxInflightEpisodes int    `mapstructure:"max_inflight_episodes"`
	LLMSemaphore        int    `mapstructure:"llm_semaphore"`
	EpisodeSpacingMs    int    `mapstructure:"episode_spacing_ms"`
	DefaultGroupID      string `mapstructure:"default_group_id"`
}

// EpisodeSpacing returns the per-group dispatch gap as a duration.
func (c IngestConfig) EpisodeSpacing() time.Duration {
	return time.Duration(c.EpisodeSpacingMs) * time.Millisecond
}

// OntologyConfig points at the optional label schema file layered over the
// built-in ontology.
type OntologyConfig struct {
	Path string `mapstructure:"ontology"`
}

// Load reads configuration from the optional file path plus environment
// variables prefixed CHRONOGRAPH_.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHRONOGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	overrideWithEnv(config)
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("graph.driver", "memory")
	v.SetDefault("graph.graph_store_url", "bolt://localhost:7687")
	v.SetDefault("graph.graph_store_user", "neo4j")
	v.SetDefault("graph.graph_store_password", "")
	v.SetDefault("graph.database", "neo4j")
	v.SetDefault("graph.query_timeout_ms", 30000)

	v.SetDefault("llm.llm_model", "gpt-4o-mini")
	v.SetDefault("llm.llm_provider_base_url", "")
	v.SetDefault("llm.llm_api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.llm_retry_base_ms", 2000)
	v.SetDefault("llm.llm_retry_cap_ms", 120000)
	v.SetDefault("llm.llm_retry_max_attempts", 5)
	v.SetDefault("llm.llm_timeout_ms", 120000)

	v.SetDefault("embedder.embedding_model", "text-embedding-3-small")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.vector_dim", 1536)
	v.SetDefault("embedder.timeout_ms", 30000)

	v.SetDefault("ingest.max_inflight_episodes", 10)
	v.SetDefault("ingest.llm_semaphore", 8)
	v.SetDefault("ingest.episode_spacing_ms", 0)
	v.SetDefault("ingest.default_group_id", "default")

	v.SetDefault("ontology.ontology", "")
}

// overrideWithEnv honors the provider credential variables people already
// have exported.
func overrideWithEnv(config *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if config.LLM.APIKey == "" {
			config.LLM.APIKey = key
		}
		if config.Embedder.APIKey == "" {
			config.Embedder.APIKey = key
		}
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Graph.URL = uri
		config.Graph.Driver = "neo4j"
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Graph.User = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Graph.Password = pass
	}
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.Ingest.MaxInflightEpisodes <= 0 {
		return fmt.Errorf("max_inflight_episodes must be positive")
	}
	if c.Ingest.LLMSemaphore < 0 {
		return fmt.Errorf("llm_semaphore cannot be negative")
	}
	if c.Embedder.VectorDim <= 0 {
		return fmt.Errorf("vector_dim must be positive")
	}
	if c.Ingest.DefaultGroupID == "" {
		return fmt.Errorf("default_group_id cannot be empty")
	}
	switch c.Graph.Driver {
	case "memory", "neo4j":
	default:
		return fmt.Errorf("unknown graph driver %q", c.Graph.Driver)
	}
	return nil
}
