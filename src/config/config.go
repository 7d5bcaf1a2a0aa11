// Package config loads service settings from the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all settings of the service.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8000" validate:"min=1,max=65535"`
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	DatabaseURL string `env:"DATABASE_URL"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	MaxSQLRows  int    `env:"MAX_SQL_ROWS" envDefault:"500" validate:"min=1"`

	LLM      LLMConfig
	Weather  WeatherConfig
	Session  SessionConfig
	Schedule ScheduleConfig

	DataDir    string `env:"DATA_DIR" envDefault:"./data"`
	SearxngURL string `env:"SEARXNG_URL"`

	ContextLimit int    `env:"CONTEXT_LIMIT" envDefault:"8" validate:"min=1"`
	Timezone     string `env:"TIMEZONE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`
}

// LLMConfig selects and configures the language model.
type LLMConfig struct {
	Provider        string        `env:"LLM_PROVIDER" envDefault:"gemini" validate:"oneof=gemini google openai anthropic claude ollama dummy"`
	Model           string        `env:"LLM_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GoogleAPIKey    string        `env:"GOOGLE_API_KEY"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	OllamaHost      string        `env:"OLLAMA_HOST"`
	MaxTokens       int           `env:"LLM_MAX_TOKENS" envDefault:"1024" validate:"min=1"`
	CacheSize       int           `env:"LLM_CACHE_SIZE" envDefault:"128" validate:"min=0"`
	CacheTTL        time.Duration `env:"LLM_CACHE_TTL" envDefault:"10m"`
}

// WeatherConfig configures the OpenWeatherMap client.
type WeatherConfig struct {
	APIKey    string        `env:"OPENWEATHERMAP_API_KEY"`
	BaseURL   string        `env:"WEATHER_BASE_URL" envDefault:"https://api.openweathermap.org"`
	Timeout   time.Duration `env:"WEATHER_TIMEOUT" envDefault:"10s"`
	RateLimit float64       `env:"WEATHER_RATE_LIMIT" envDefault:"1"`
	CacheTTL  time.Duration `env:"WEATHER_CACHE_TTL" envDefault:"10m"`
}

// SessionConfig selects the conversation store.
type SessionConfig struct {
	Backend       string `env:"SESSION_BACKEND" envDefault:"sqlite" validate:"oneof=sqlite memory mongo"`
	SQLitePath    string `env:"SESSION_DB_PATH" envDefault:"sessions.db"`
	MongoURI      string `env:"MONGO_URI" validate:"required_if=Backend mongo"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"agentflow"`
}

// ScheduleConfig tunes the meeting workflow.
type ScheduleConfig struct {
	DefaultCity string        `env:"DEFAULT_CITY" envDefault:"Chennai"`
	ThresholdC  float64       `env:"WEATHER_THRESHOLD_C" envDefault:"18"`
	MaxAttempts int           `env:"SCHEDULE_MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=10"`
	Backoff     time.Duration `env:"SCHEDULE_BACKOFF" envDefault:"200ms"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env files (missing ones are skipped) and then the process
// environment. Values already in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromMap parses cfg from vars only, ignoring the process environment.
func FromMap(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks field constraints and the timezone name.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves Timezone; empty means the local zone.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// APIKey returns the key for the configured provider. Gemini accepts
// either GEMINI_API_KEY or GOOGLE_API_KEY.
func (l LLMConfig) APIKey() string {
	switch strings.ToLower(l.Provider) {
	case "gemini", "google":
		if l.GeminiAPIKey != "" {
			return l.GeminiAPIKey
		}
		return l.GoogleAPIKey
	case "openai":
		return l.OpenAIAPIKey
	case "anthropic", "claude":
		return l.AnthropicAPIKey
	default:
		return ""
	}
}

// BaseURL returns the endpoint override for the configured provider.
func (l LLMConfig) BaseURL() string {
	switch strings.ToLower(l.Provider) {
	case "openai":
		return l.OpenAIBaseURL
	case "ollama":
		return l.OllamaHost
	default:
		return ""
	}
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
