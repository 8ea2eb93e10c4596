package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	// SessionSearchWindowHours bounds the legacy-order fallback search.
	SessionSearchWindowHours int

	AuthSecret string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	searchWindow, err := strconv.Atoi(getEnv("SESSION_SEARCH_WINDOW_HOURS", "24"))
	if err != nil || searchWindow < 1 {
		searchWindow = 24
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		GatewayBaseURL:           getEnv("GATEWAY_BASE_URL", "https://api.stripe.com"),
		GatewayAPIKey:            strings.TrimSpace(os.Getenv("GATEWAY_API_KEY")),
		GatewayWebhookSecret:     strings.TrimSpace(os.Getenv("GATEWAY_WEBHOOK_SECRET")),
		SessionSearchWindowHours: searchWindow,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
