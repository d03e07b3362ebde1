package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI   string
	TelegramToken string
	OwnerChatID   int64
	AIAPIKey      string
	AIBaseURL     string
	AIModel       string

	HTTPAddr      string
	CheckInterval time.Duration
	RingTimeout   time.Duration
	SnoozeMinutes int
	AudioEnabled  bool

	LogLevel string
	LogJSON  bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	return &Config{
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		OwnerChatID:   getEnvInt64("OWNER_CHAT_ID", 0),
		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIBaseURL:     getEnvOrDefault("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIModel:       getEnvOrDefault("AI_MODEL", "openai/gpt-4o-mini"),
		HTTPAddr:      getEnvOrDefault("HTTP_ADDR", ":8080"),
		CheckInterval: getEnvDuration("CHECK_INTERVAL", 10*time.Second),
		RingTimeout:   getEnvDuration("RING_TIMEOUT", 12*time.Second),
		SnoozeMinutes: int(getEnvInt64("SNOOZE_MINUTES", 5)),
		AudioEnabled:  getEnvBool("AUDIO_ENABLED", true),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogJSON:       getEnvBool("LOG_JSON", false),
	}, nil
}

// Validate reports the first missing setting needed to run the daemon.
func (c *Config) Validate() error {
	if c.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if c.OwnerChatID == 0 {
		return errors.New("OWNER_CHAT_ID is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}
