package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server and the batch tools read from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DSN         string
	AutoMigrate bool
	JWTSecret   []byte
	UploadBase  string

	PhotoMaxBytes    int64
	DocumentMaxBytes int64

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

const devSecret = "dev-insecure-secret-change" // development fallback

// LoadDotEnv loads key=value pairs from ./.env without overwriting variables
// that are already set. A missing file is not an error.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load(".env")
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:      getEnv("APP_ENV", "dev"),
		Port:        getEnv("APP_PORT", "8081"),
		DSN:         os.Getenv("DB_DSN"),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", true),
		UploadBase:  getEnv("UPLOAD_BASE", "uploads"),
	}
	if cfg.DSN == "" {
		return Config{}, errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if cfg.AppEnv == "prod" {
			return Config{}, errors.New("JWT_SECRET must be set in prod")
		}
		secret = devSecret
	}
	cfg.JWTSecret = []byte(secret)

	var err error
	if cfg.PhotoMaxBytes, err = getEnvBytes("PHOTO_MAX_BYTES", 4<<20); err != nil {
		return Config{}, err
	}
	if cfg.DocumentMaxBytes, err = getEnvBytes("DOCUMENT_MAX_BYTES", 20<<20); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = time.ParseDuration(getEnv("ACCESS_TOKEN_TTL", "24h")); err != nil {
		return Config{}, fmt.Errorf("invalid ACCESS_TOKEN_TTL: %w", err)
	}
	if cfg.RefreshTokenTTL, err = time.ParseDuration(getEnv("REFRESH_TOKEN_TTL", "720h")); err != nil {
		return Config{}, fmt.Errorf("invalid REFRESH_TOKEN_TTL: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback
	case "false", "0", "no", "off":
		return false
	case "true", "1", "yes", "on":
		return true
	}
	return fallback
}

func getEnvBytes(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
