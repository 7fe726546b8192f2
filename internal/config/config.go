// Package config handles Furrow configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/furrow/config.yaml, /etc/furrow/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "furrow", "config.yaml"))
	}

	paths = append(paths, "/etc/furrow/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// DefaultChatModel is used when models.chat is unset.
const DefaultChatModel = "gpt-4o-mini"

// Config holds all Furrow configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Search     SearchConfig     `yaml:"search"`
	Weather    WeatherConfig    `yaml:"weather"`
	Memory     MemoryConfig     `yaml:"memory"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	PromptsDir string           `yaml:"prompts_dir"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects which model serves each role.
type ModelsConfig struct {
	// Chat is the model used by the orchestration loop.
	Chat string `yaml:"chat"`
	// Extraction is the model used for activity parsing and memory
	// extraction. Defaults to Chat.
	Extraction string `yaml:"extraction"`
	// Available maps model names to providers for routing.
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps one model to its provider and pricing.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // openai or ollama
	// Prices in USD per million tokens, used for usage accounting.
	InputPrice  float64 `yaml:"input_price"`
	OutputPrice float64 `yaml:"output_price"`
}

// OpenAIConfig defines OpenAI-compatible API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// OllamaConfig defines the local Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingsConfig defines embedding generation for retrieval.
type EmbeddingsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai or ollama
	Model    string `yaml:"model"`
}

// SearchConfig configures the web_search tool backends.
type SearchConfig struct {
	// Primary selects the default provider ("searxng" or "brave").
	// Empty picks the first configured one.
	Primary string        `yaml:"primary"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// SearXNGConfig configures a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// BraveConfig configures the Brave Search API.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool { return c.APIKey != "" }

// WeatherConfig configures the get_weather tool.
type WeatherConfig struct {
	// ArchiveURL is the Open-Meteo archive endpoint.
	ArchiveURL string `yaml:"archive_url"`
}

// MemoryConfig controls history loading and durable memory extraction.
type MemoryConfig struct {
	// HistoryLimit is how many prior messages are replayed per turn.
	HistoryLimit int `yaml:"history_limit"`
	// ExtractionEnabled turns on post-turn memory extraction.
	ExtractionEnabled bool `yaml:"extraction_enabled"`
	// MinConfidence is the floor below which extracted memories are dropped.
	MinConfidence float64 `yaml:"min_confidence"`
	// ExtractionTimeout bounds each background extraction.
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`
}

// RateLimitConfig defines per-client request limits on the API.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// MQTTConfig defines optional event forwarding to an MQTT broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker URL is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and defaults fill any gaps.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.Chat == "" {
		c.Models.Chat = DefaultChatModel
	}
	if c.Models.Extraction == "" {
		c.Models.Extraction = c.Models.Chat
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}
	if c.Embeddings.Model == "" {
		if c.Embeddings.Provider == "ollama" {
			c.Embeddings.Model = "nomic-embed-text"
		} else {
			c.Embeddings.Model = "text-embedding-3-small"
		}
	}
	if c.Weather.ArchiveURL == "" {
		c.Weather.ArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	if c.Memory.HistoryLimit <= 0 {
		c.Memory.HistoryLimit = 40
	}
	if c.Memory.MinConfidence <= 0 {
		c.Memory.MinConfidence = 0.75
	}
	if c.Memory.ExtractionTimeout <= 0 {
		c.Memory.ExtractionTimeout = 30 * time.Second
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 30
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "furrow"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate checks for settings that would fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Models.Chat == "" {
		errs = append(errs, errors.New("models.chat is required"))
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "openai", "ollama":
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	switch c.Embeddings.Provider {
	case "", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if c.Memory.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("memory.min_confidence %.2f exceeds 1", c.Memory.MinConfidence))
	}
	return errors.Join(errs...)
}

// ProviderFor returns the configured provider for a model, falling back
// to openai when an API key is present and ollama otherwise.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	if c.OpenAI.Configured() {
		return "openai"
	}
	return "ollama"
}

// Pricing returns the per-million-token prices for a model.
// Unknown models cost zero.
func (c *Config) Pricing(model string) (input, output float64) {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.InputPrice, m.OutputPrice
		}
	}
	return 0, 0
}

// DatabasePath returns the path of a named SQLite database in DataDir.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}
