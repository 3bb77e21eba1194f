package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig     `json:"server"`
	Simulation  SimConfig        `json:"simulation"`
	ProfilesDir string           `json:"profiles_dir"`
	Providers   []ProviderConfig `json:"providers"`
	Database    DatabaseConfig   `json:"database"`
	Embedding   EmbeddingConfig  `json:"embedding"`
	Feed        FeedConfig       `json:"feed"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// SimConfig tunes the tick loop and retention.
type SimConfig struct {
	// TickStepMinutes is how much world time one tick advances. Zero means 5.
	TickStepMinutes int `json:"tick_step_minutes"`
	// StartHour places the world clock at this hour on day one. Omitted
	// means the wall clock; 0 is a valid midnight start.
	StartHour *int `json:"start_hour"`
	// MaxTicks / MaxConversations are the default run limits. Zero means unlimited.
	MaxTicks         int64 `json:"max_ticks"`
	MaxConversations int64 `json:"max_conversations"`
	// RetentionDays is how long records are kept. Zero disables cleanup.
	RetentionDays int `json:"retention_days"`
	// PlanEvery / ReflectEvery tune the heuristic decision cadence.
	PlanEvery    int `json:"plan_every"`
	ReflectEvery int `json:"reflect_every"`
	// UseProviderPolicy delegates plan/reflect decisions to the provider.
	UseProviderPolicy bool `json:"use_provider_policy"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	Default  bool   `json:"default"`
	Fallback bool   `json:"fallback"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	// DSN empty means run on the in-memory store.
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type Neo4jConfig struct {
	Enabled  bool   `json:"enabled"`
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Stream  string `json:"stream"`
}

type QdrantConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// FeedConfig wires the outward conversation mirrors.
type FeedConfig struct {
	Slack   SlackFeedConfig   `json:"slack"`
	Discord DiscordFeedConfig `json:"discord"`
}

type SlackFeedConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordFeedConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = "profiles"
	}
	if cfg.Simulation.TickStepMinutes == 0 {
		cfg.Simulation.TickStepMinutes = 5
	}
	if cfg.Database.Postgres.MigrationsDir == "" {
		cfg.Database.Postgres.MigrationsDir = "migrations"
	}
}
