// Package config loads and validates the assistant's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/metricsmith/sage/pkg/agent"
	"github.com/metricsmith/sage/pkg/retrieval"
	"github.com/metricsmith/sage/pkg/tools"
	"github.com/metricsmith/sage/pkg/tools/builtin"
	"github.com/metricsmith/sage/pkg/vector"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig        `yaml:"logging"`
	Model     ModelConfig          `yaml:"model"`
	Embedder  EmbedderConfig       `yaml:"embedder"`
	Vector    VectorConfig         `yaml:"vector"`
	Retrieval retrieval.Config     `yaml:"retrieval"`
	Executor  tools.ExecutorConfig `yaml:"executor"`
	Agent     agent.Config         `yaml:"agent"`
	Tools     ToolsConfig          `yaml:"tools"`
	Server    ServerConfig         `yaml:"server"`
}

type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "compact"
	}
}

// ModelConfig selects and configures the LLM provider.
type ModelConfig struct {
	// Type is "gemini" or "openai".
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model,omitempty"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

func (c *ModelConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "gemini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
}

func (c *ModelConfig) Validate() error {
	switch c.Type {
	case "gemini", "openai":
	default:
		return fmt.Errorf("unsupported model type: %s", c.Type)
	}
	if c.APIKey == "" {
		return fmt.Errorf("model api_key is required")
	}
	return nil
}

type EmbedderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

func (c *EmbedderConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("embedder api_key is required")
	}
	return nil
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	// Type is "chromem" (embedded, default) or "pgvector".
	Type     string                `yaml:"type,omitempty"`
	Chromem  vector.ChromemConfig  `yaml:"chromem,omitempty"`
	Pgvector vector.PgvectorConfig `yaml:"pgvector,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem":
	case "pgvector":
		if c.Pgvector.DSN == "" {
			return fmt.Errorf("pgvector dsn is required")
		}
	default:
		return fmt.Errorf("unsupported vector store type: %s", c.Type)
	}
	return nil
}

// ToolsConfig enables and configures the builtin tool backends. A
// backend with a zero config is left unregistered.
type ToolsConfig struct {
	Ads       *builtin.AdsConfig       `yaml:"ads,omitempty"`
	Analytics *builtin.AnalyticsConfig `yaml:"analytics,omitempty"`
	Warehouse *builtin.WarehouseConfig `yaml:"warehouse,omitempty"`
	WebSearch *builtin.WebSearchConfig `yaml:"web_search,omitempty"`

	// KnowledgeBase registers kb_search on top of the retrieval engine.
	KnowledgeBase bool `yaml:"knowledge_base,omitempty"`

	// Benchmarks registers the industry benchmark tools. They run on
	// static reference data and need no credentials.
	Benchmarks bool `yaml:"benchmarks,omitempty"`
}

type ServerConfig struct {
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	SessionPath string `yaml:"session_path,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.SessionPath == "" {
		c.SessionPath = "sage_sessions.db"
	}
}

// SetDefaults fills every section's defaults.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Model.SetDefaults()
	c.Vector.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Executor.SetDefaults()
	c.Agent.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks every section after defaults are applied.
func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

// Load reads, env-expands, defaults and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
