// Package config handles YAML configuration loading with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Budget    BudgetConfig    `yaml:"budget"`
	CORS      CORSConfig      `yaml:"cors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []ProviderEntry `yaml:"providers"`
	Models    []ModelEntry    `yaml:"models"`
	Pricing   []PricingEntry  `yaml:"pricing"`
	RAG       RAGConfig       `yaml:"rag"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Voice     VoiceConfig     `yaml:"voice"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// BudgetConfig holds the daily spend cap.
type BudgetConfig struct {
	DailyCapUSD float64 `yaml:"daily_cap_usd"`
}

// CORSConfig holds allowed CORS origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry configures one upstream LLM provider. APIKey is optional --
// a provider with no key is simply left unregistered.
type ProviderEntry struct {
	Name    string `yaml:"name"` // openai, anthropic, google, perplexity
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ModelEntry is one model-catalog row mapping a model id to its provider.
type ModelEntry struct {
	ID        string `yaml:"id"`
	Provider  string `yaml:"provider"`
	MaxTokens int    `yaml:"max_tokens"`
}

// PricingEntry is one pricing-book row.
type PricingEntry struct {
	ModelID         string  `yaml:"model_id"`
	InputPer1M      float64 `yaml:"input_per_million"`
	OutputPer1M     float64 `yaml:"output_per_million"`
	PerMinute       float64 `yaml:"per_minute"`
	PerMillionChars float64 `yaml:"per_million_chars"`
}

// RAGConfig holds retrieval parameters.
type RAGConfig struct {
	BaseURL      string  `yaml:"base_url"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	RetrievalK   int     `yaml:"retrieval_k"`
	Threshold    float64 `yaml:"similarity_threshold"`
}

// EmbeddingConfig names the embedding model and store path.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	StorePath string `yaml:"store_path"`
}

// VoiceConfig holds speech-to-text/text-to-speech defaults.
type VoiceConfig struct {
	STTModel string `yaml:"stt_model"`
	TTSModel string `yaml:"tts_model"`
	TTSVoice string `yaml:"tts_voice"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment
// variables, over a set of sane defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
		Database: DatabaseConfig{DSN: "chatgate.db"},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			RetrievalK:   5,
			Threshold:    0.5,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
