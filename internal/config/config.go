// Package config loads runtime settings from the environment, with a
// .env file honored in development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	AllowedOrigins []string
	InviteTTL      time.Duration
	ReconnectGrace time.Duration
}

func defaults() Config {
	return Config{
		Port:           ":8080",
		InviteTTL:      30 * time.Second,
		ReconnectGrace: 10 * time.Second,
	}
}

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Port = v
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if v := os.Getenv("INVITE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse INVITE_TTL: %w", err)
		}
		cfg.InviteTTL = d
	}
	if v := os.Getenv("RECONNECT_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse RECONNECT_GRACE: %w", err)
		}
		cfg.ReconnectGrace = d
	}

	if cfg.InviteTTL <= 0 || cfg.ReconnectGrace <= 0 {
		return Config{}, fmt.Errorf("invite ttl and reconnect grace must be positive")
	}
	return cfg, nil
}
