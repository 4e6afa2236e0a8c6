package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log          LogConfig               `yaml:"log"`
	LLM          LLMConfig               `yaml:"llm"`
	Conversation ConversationConfig      `yaml:"conversation"`
	Cohorts      map[string]CohortConfig `yaml:"cohorts"`
	Workflow     WorkflowConfig          `yaml:"workflow"`
	Payments     PaymentsConfig          `yaml:"payments"`
	Sweeper      SweeperConfig           `yaml:"sweeper"`
	Quotes       QuotesConfig            `yaml:"quotes"`
	Telegram     TelegramConfig          `yaml:"telegram"`
	NATS         NATSConfig              `yaml:"nats"`
	Store        StoreConfig             `yaml:"store"`
	Web          WebConfig               `yaml:"web"`
	Vault        VaultConfig             `yaml:"vault"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig holds the language model settings. APIKey may reference a vault
// secret as "secret:<name>".
type LLMConfig struct {
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int64         `yaml:"max_tokens"`
	TopP              float64       `yaml:"top_p"`
	FrequencyPenalty  float64       `yaml:"frequency_penalty"`
	PresencePenalty   float64       `yaml:"presence_penalty"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        uint64        `yaml:"max_retries"`
}

type ConversationConfig struct {
	MaxTurns    int           `yaml:"max_turns"`
	Cohort      string        `yaml:"cohort"`
	SessionIdle time.Duration `yaml:"session_idle"`
}

// CohortConfig declares a set of agents that hand off to each other.
type CohortConfig struct {
	Entry  string                     `yaml:"entry"`
	Agents map[string]AgentDefinition `yaml:"agents"`
}

type AgentDefinition struct {
	Tag          string   `yaml:"tag"`
	Description  string   `yaml:"description"`
	Instructions string   `yaml:"instructions"`
	Tools        []string `yaml:"tools"`
	Schema       string   `yaml:"schema"`
	Model        string   `yaml:"model"`
	Handoffs     []string `yaml:"handoffs"`
}

type WorkflowConfig struct {
	MaxParallel int           `yaml:"max_parallel"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	Planner     string        `yaml:"planner"`
}

type PaymentsConfig struct {
	BaseURL  string        `yaml:"base_url"`
	LinkTTL  time.Duration `yaml:"link_ttl"`
	Currency string        `yaml:"currency"`
}

type SweeperConfig struct {
	Schedule string `yaml:"schedule"`
}

type QuotesConfig struct {
	Source   string        `yaml:"source"`
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type NATSConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxTokens:         1000,
			TopP:              1.0,
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
			MaxRetries:        3,
		},
		Conversation: ConversationConfig{
			MaxTurns:    20,
			Cohort:      "automotive",
			SessionIdle: 30 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxParallel: 4,
			StepTimeout: 2 * time.Minute,
			Planner:     "rules",
		},
		Payments: PaymentsConfig{
			BaseURL:  "https://payments.example.com/pay/",
			LinkTTL:  7 * 24 * time.Hour,
			Currency: "INR",
		},
		Sweeper: SweeperConfig{
			Schedule: "*/5 * * * *",
		},
		Quotes: QuotesConfig{
			Source:   "simulated",
			Interval: 30 * time.Second,
			Window:   30 * time.Minute,
		},
		NATS: NATSConfig{
			Host: "127.0.0.1",
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/relay.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Path returns the configuration file location, RELAY_CONFIG or
// config/relay.yaml.
func Path() string {
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return "config/relay.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Conversation.MaxTurns <= 0 {
		return fmt.Errorf("conversation.max_turns must be positive, got %d", c.Conversation.MaxTurns)
	}
	if c.Workflow.MaxParallel <= 0 {
		return fmt.Errorf("workflow.max_parallel must be positive, got %d", c.Workflow.MaxParallel)
	}
	switch c.Workflow.Planner {
	case "rules", "model":
	default:
		return fmt.Errorf("workflow.planner must be rules or model, got %q", c.Workflow.Planner)
	}
	switch c.Quotes.Source {
	case "simulated", "http":
	default:
		return fmt.Errorf("quotes.source must be simulated or http, got %q", c.Quotes.Source)
	}
	if c.Quotes.Source == "http" && c.Quotes.URL == "" {
		return fmt.Errorf("quotes.url is required for the http source")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RELAY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RELAY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RELAY_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("RELAY_QUOTES_TOKEN"); v != "" {
		cfg.Quotes.Token = v
	}
	if v := os.Getenv("RELAY_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("RELAY_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("RELAY_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("RELAY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("RELAY_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("RELAY_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.MaxTurns = n
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
