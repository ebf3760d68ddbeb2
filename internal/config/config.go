package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string
	LogLevel string

	// Store is "postgres" or "memory".
	Store       string
	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAITimeout time.Duration

	WebhookAddr   string
	WebhookSecret string

	Workers     int
	ContextSize int
	WaitingTTL  time.Duration
	QuotaCAS    bool

	ProviderToken string
}

// Load reads config.env / .env when present and then the environment.
// Variables already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{"config.env", ".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := &Config{
		BotToken:      getEnvString("BOT_TOKEN", ""),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		Store:         strings.ToLower(getEnvString("STORE", "postgres")),
		PostgresDSN:   getEnvString("POSTGRES_DSN", ""),
		RedisAddr:     fmt.Sprintf("%s:%s", getEnvString("REDIS_HOST", "localhost"), getEnvString("REDIS_PORT", "6379")),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnvString("REDIS_PREFIX", "gpt_bot"),
		OpenAIKey:     getEnvString("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnvString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeout: getEnvDuration("OPENAI_TIMEOUT", 2*time.Minute),
		WebhookAddr:   getEnvString("WEBHOOK_ADDR", ":8080"),
		WebhookSecret: getEnvString("WEBHOOK_SECRET", ""),
		Workers:       getEnvInt("WORKERS", 3),
		ContextSize:   getEnvInt("CONTEXT_SIZE", 10),
		WaitingTTL:    getEnvDuration("WAITING_TTL", 5*time.Minute),
		QuotaCAS:      getEnvBool("QUOTA_CAS", true),
		ProviderToken: getEnvString("YOOKASSA_PROVIDER_TOKEN", ""),
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = buildPostgresDSNFromEnv()
	}
	return cfg, nil
}

// Validate checks what serve needs to start.
func (c *Config) Validate() error {
	var errs []error
	if c.BotToken == "" {
		errs = append(errs, errors.New("BOT_TOKEN is required"))
	}
	if c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.Store != "postgres" && c.Store != "memory" {
		errs = append(errs, fmt.Errorf("STORE must be postgres or memory, got %q", c.Store))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

func buildPostgresDSNFromEnv() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnvString("POSTGRES_USER", "gpt_bot"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     getEnvString("POSTGRES_HOST", "localhost") + ":" + getEnvString("POSTGRES_PORT", "5432"),
		Path:     "/" + getEnvString("POSTGRES_DB", "gpt_bot"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getEnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
