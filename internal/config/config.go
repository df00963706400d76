// Package config loads service configuration from the environment, with an
// optional .env file for local development.
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

// Config is the fully-resolved runtime configuration. It is built once in
// main and passed down; nothing reads the environment after startup.
type Config struct {
	Addr        string
	PostgresDSN string
	BlobDir     string
	AuthSecret  string
	Development bool

	RateBurst  int
	RatePerSec int

	AllowedOrigins []string
	AdminEmails    []string

	ShutdownTimeout time.Duration
}

// Load reads CLUSTERCARD_* variables, after loading .env when present.
func Load() (Config, error) {
	// Missing .env is fine; explicit env always wins.
	_ = godotenv.Load()

	cfg := Config{
		Addr:            getEnv("CLUSTERCARD_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("CLUSTERCARD_PG_DSN"),
		BlobDir:         getEnv("CLUSTERCARD_BLOB_DIR", "data/artifacts"),
		AuthSecret:      os.Getenv("CLUSTERCARD_AUTH_SECRET"),
		Development:     boolEnv("CLUSTERCARD_DEV", false),
		RateBurst:       intEnv("CLUSTERCARD_RATE_BURST", 20),
		RatePerSec:      intEnv("CLUSTERCARD_RATE_PER_SEC", 10),
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.AllowedOrigins = listEnv("CLUSTERCARD_CORS_ORIGINS")
	cfg.AdminEmails = listEnv("CLUSTERCARD_ADMIN_EMAILS")
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("CLUSTERCARD_AUTH_SECRET is required")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return fmt.Errorf("invalid rate limit: burst=%d per_sec=%d", c.RateBurst, c.RatePerSec)
	}
	return nil
}

func listEnv(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func boolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
