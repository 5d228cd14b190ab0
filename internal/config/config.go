package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/fingermesh/accesshub/internal/template"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTNamespace string

	JWTSecret         string
	JWTExpiry         time.Duration
	AdminPasswordHash string

	TemplatePageThreshold int

	LogLevel string
}

func LoadConfig() (*Config, error) {
	expiryStr := getEnv("JWT_EXPIRY", "24h")
	expiry, err := time.ParseDuration(expiryStr)
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}

	threshold, err := strconv.Atoi(getEnv("TEMPLATE_PAGE_THRESHOLD", strconv.Itoa(template.DefaultPageThreshold)))
	if err != nil || threshold <= 0 {
		return nil, errors.New("TEMPLATE_PAGE_THRESHOLD must be a positive integer")
	}

	cfg := &Config{
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		MQTTBrokerURL:         getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:          getEnv("MQTT_CLIENT_ID", "accesshub-server"),
		MQTTNamespace:         getEnv("MQTT_NAMESPACE", "fingerprint"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTExpiry:             expiry,
		AdminPasswordHash:     os.Getenv("ADMIN_PASSWORD_HASH"),
		TemplatePageThreshold: threshold,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AdminPasswordHash == "" {
		return nil, errors.New("ADMIN_PASSWORD_HASH is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
