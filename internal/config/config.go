package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string
	TokenTTL    time.Duration

	// Redis - empty means a single instance with an in-process event bus
	RedisURL string

	// Object storage - uploads are disabled when Endpoint or Bucket is empty
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string

	// WebSocket session limits
	SendBuffer     int
	MaxMessageSize int64
	InboundRPS     float64
	InboundBurst   int
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getenv("API_ADDR", ":8080"),
		DatabaseURL:    getenv("DB_DSN", ""),
		JWTSecret:      getenv("JWT_SECRET", ""),
		TokenTTL:       time.Duration(getenvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		RedisURL:       getenv("REDIS_URL", ""),
		S3Endpoint:     getenv("S3_ENDPOINT", ""),
		S3Region:       getenv("S3_REGION", ""),
		S3Bucket:       getenv("S3_BUCKET", ""),
		S3AccessKey:    getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getenv("S3_SECRET_KEY", ""),
		S3UseSSL:       getenvBool("S3_USE_SSL", false),
		S3PublicURL:    getenv("S3_PUBLIC_URL", ""),
		SendBuffer:     getenvInt("WS_SEND_BUFFER", 256),
		MaxMessageSize: int64(getenvInt("WS_MAX_MESSAGE_BYTES", 4096)),
		InboundRPS:     getenvFloat("WS_INBOUND_RPS", 10),
		InboundBurst:   getenvInt("WS_INBOUND_BURST", 20),
	}
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DB_DSN is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("WS_SEND_BUFFER must be positive"))
	}
	return errors.Join(errs...)
}

// StorageEnabled reports whether object storage settings are complete.
func (c Config) StorageEnabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
