package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds configuration for both binaries. The chat client only uses
// ServerURL; the devserver uses the rest.
type AppConfig struct {
	ServerURL   string
	ServerPort  string
	JWTSecret   string
	TokenMaxAge time.Duration
}

// Cfg is the globally loaded configuration.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one is present. A missing .env is not fatal so the binaries
// can run with plain environment variables in CI or containers.
func LoadConfig(envPath ...string) {
	envFile := ".env"
	if len(envPath) > 0 {
		envFile = envPath[0]
	}

	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: Could not load %s file: %v. Relying on environment variables.", envFile, err)
	}

	tokenHoursStr := getEnv("TOKEN_HOURS", "72")
	tokenHours, err := strconv.Atoi(tokenHoursStr)
	if err != nil {
		log.Printf("Warning: Invalid TOKEN_HOURS value '%s', using default 72h. Error: %v", tokenHoursStr, err)
		tokenHours = 72
	}

	Cfg = &AppConfig{
		ServerURL:   getEnv("SERVER_URL", "http://localhost:8080"),
		ServerPort:  getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "a_very_long_and_insecure_dev_only_secret_key"),
		TokenMaxAge: time.Hour * time.Duration(tokenHours),
	}

	log.Printf("Configuration loaded: ServerURL=%s, Port=%s, TokenMaxAge=%v", Cfg.ServerURL, Cfg.ServerPort, Cfg.TokenMaxAge)
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
