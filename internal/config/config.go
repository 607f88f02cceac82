package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Port       int           `yaml:"port"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	// SubmitRatePerMinute bounds message submissions per client at the web
	// boundary, on top of the orchestrator's own debounce.
	SubmitRatePerMinute int `yaml:"submit_rate_per_minute"`
}

type PipelineConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	SubmitTimeout time.Duration `yaml:"submit_timeout"` // per-request
	StatusTimeout time.Duration `yaml:"status_timeout"`
	ResultTimeout time.Duration `yaml:"result_timeout"`
}

type PollingConfig struct {
	BaseInterval time.Duration `yaml:"base_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	MaxErrors    int           `yaml:"max_errors"`
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

type ClarificationConfig struct {
	// MaxHumanAnswers is how many clarifications are surfaced to the user
	// per job before the coordinator starts auto-skipping.
	MaxHumanAnswers int `yaml:"max_human_answers"`
	// MaxAutoSkips bounds the automatic "proceed anyway" round trips.
	MaxAutoSkips int `yaml:"max_auto_skips"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey   string `yaml:"openai_key"`
	GeminiKey   string `yaml:"gemini_key"`
	TitlerModel string `yaml:"titler_model"`
}

type LimitsConfig struct {
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
}

type Config struct {
	Log           LogConfig           `yaml:"log"`
	API           APIConfig           `yaml:"api"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Polling       PollingConfig       `yaml:"polling"`
	Clarification ClarificationConfig `yaml:"clarification"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	AI            AIConfig            `yaml:"ai"`
	Limits        LimitsConfig        `yaml:"limits"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Pipeline.BaseURL == "" {
		return nil, errors.New("pipeline.base_url is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.SessionTTL <= 0 {
		cfg.API.SessionTTL = 12 * time.Hour
	}
	if cfg.API.SubmitRatePerMinute <= 0 {
		cfg.API.SubmitRatePerMinute = 10
	}
	if cfg.Pipeline.SubmitTimeout <= 0 {
		cfg.Pipeline.SubmitTimeout = 30 * time.Second
	}
	if cfg.Pipeline.StatusTimeout <= 0 {
		cfg.Pipeline.StatusTimeout = 10 * time.Second
	}
	if cfg.Pipeline.ResultTimeout <= 0 {
		cfg.Pipeline.ResultTimeout = 60 * time.Second
	}
	if cfg.Polling.BaseInterval <= 0 {
		cfg.Polling.BaseInterval = 3 * time.Second
	}
	if cfg.Polling.MaxInterval <= 0 {
		cfg.Polling.MaxInterval = 30 * time.Second
	}
	if cfg.Polling.MaxErrors <= 0 {
		cfg.Polling.MaxErrors = 5
	}
	if cfg.Polling.TotalTimeout <= 0 {
		cfg.Polling.TotalTimeout = 10 * time.Minute
	}
	if cfg.Clarification.MaxHumanAnswers <= 0 {
		cfg.Clarification.MaxHumanAnswers = 1
	}
	if cfg.Clarification.MaxAutoSkips <= 0 {
		cfg.Clarification.MaxAutoSkips = 2
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.AI.TitlerModel == "" {
		cfg.AI.TitlerModel = "gpt-4o-mini"
	}
	if cfg.Limits.MaxPromptTokens <= 0 {
		cfg.Limits.MaxPromptTokens = 8000
	}
	if cfg.Limits.DebounceWindow <= 0 {
		cfg.Limits.DebounceWindow = 500 * time.Millisecond
	}
}
