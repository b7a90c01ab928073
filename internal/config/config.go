// Package config loads brieflow configuration from the environment, an optional .env file
// and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/raphaelgruber/brieflow/internal/evidence"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreDir       = "dir"
	StoreSurrealDB = "surrealdb"
	StoreRedis     = "redis"
)

// LLM providers.
const (
	ProviderNone      = "none"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Durable storage for checkpoints and evidence items
	Store   string `validate:"oneof=memory dir surrealdb redis"`
	DataDir string `validate:"required_if=Store dir"`

	// SurrealDB connection
	SurrealDBURL       string `validate:"required_if=Store surrealdb"`
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string `validate:"oneof=root database"`

	// Redis connection
	RedisURL string `validate:"required_if=Store redis"`

	// Event publishing; empty disables NATS
	NATSURL string

	// Language model
	LLMProvider     string `validate:"oneof=none ollama openai anthropic bedrock"`
	LLMModel        string `validate:"required_unless=LLMProvider none"`
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Workflow tuning
	PhaseTimeout    time.Duration `validate:"gt=0"`
	CheckpointKeep  int           `validate:"gte=1"`
	EvidenceWorkers int           `validate:"gte=1"`
	PacketBudget    int           `validate:"gte=1"`

	// Classification profiles keyed by case type
	Profiles map[string]evidence.Profile `validate:"dive"`

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Overlay is the YAML file shape read from BRIEFLOW_CONFIG. Zero fields keep the
// environment values.
type Overlay struct {
	PhaseTimeout    string             `yaml:"phase_timeout"`
	CheckpointKeep  int                `yaml:"checkpoint_keep"`
	EvidenceWorkers int                `yaml:"evidence_workers"`
	PacketBudget    int                `yaml:"packet_budget"`
	Profiles        []evidence.Profile `yaml:"profiles"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables, a .env file in the working
// directory when present, and the YAML file named by BRIEFLOW_CONFIG.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := FromEnv()
	if path := os.Getenv("BRIEFLOW_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config overlay: %w", err)
		}
		if err := cfg.ApplyOverlay(data); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults without validating it.
func FromEnv() Config {
	return Config{
		Store:   getEnv("BRIEFLOW_STORE", StoreDir),
		DataDir: getEnv("BRIEFLOW_DATA_DIR", defaultDataDir()),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "brieflow"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "workflow"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		NATSURL:  getEnv("NATS_URL", ""),

		LLMProvider:     strings.ToLower(getEnv("BRIEFLOW_LLM_PROVIDER", ProviderNone)),
		LLMModel:        getEnv("BRIEFLOW_LLM_MODEL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		PhaseTimeout:    parseDuration(getEnv("BRIEFLOW_PHASE_TIMEOUT", ""), 10*time.Minute),
		CheckpointKeep:  parseInt(getEnv("BRIEFLOW_CHECKPOINT_KEEP", ""), 10),
		EvidenceWorkers: parseInt(getEnv("BRIEFLOW_EVIDENCE_WORKERS", ""), 4),
		PacketBudget:    parseInt(getEnv("BRIEFLOW_PACKET_BUDGET", ""), 2000),

		Profiles: evidence.DefaultProfiles(),

		LogFile:  getEnv("BRIEFLOW_LOG_FILE", "/tmp/brieflow.log"),
		LogLevel: parseLogLevel(getEnv("BRIEFLOW_LOG_LEVEL", "INFO")),
	}
}

// ApplyOverlay merges a YAML overlay document into cfg. Profiles replace the built-in
// profile of the same case type.
func (c *Config) ApplyOverlay(data []byte) error {
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("parse config overlay: %w", err)
	}
	if o.PhaseTimeout != "" {
		d, err := time.ParseDuration(o.PhaseTimeout)
		if err != nil {
			return fmt.Errorf("parse phase_timeout: %w", err)
		}
		c.PhaseTimeout = d
	}
	if o.CheckpointKeep != 0 {
		c.CheckpointKeep = o.CheckpointKeep
	}
	if o.EvidenceWorkers != 0 {
		c.EvidenceWorkers = o.EvidenceWorkers
	}
	if o.PacketBudget != 0 {
		c.PacketBudget = o.PacketBudget
	}
	if len(o.Profiles) > 0 && c.Profiles == nil {
		c.Profiles = make(map[string]evidence.Profile)
	}
	for _, p := range o.Profiles {
		key := strings.ToLower(strings.TrimSpace(p.CaseType))
		if key == "" {
			return errors.New("config overlay: profile without case_type")
		}
		p.CaseType = key
		c.Profiles[key] = p
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/brieflow"
	}
	return ".brieflow"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
