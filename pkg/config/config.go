// Package config loads sheetsync settings from .env files and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDB              = "SHEETSYNC_DB"
	EnvSheetsAPIKey    = "SHEETS_API_KEY"
	EnvCredentials     = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvSnapshotsDir    = "SHEETSYNC_SNAPSHOTS_DIR"
	EnvHTTPTimeout     = "SHEETSYNC_HTTP_TIMEOUT"
	DefaultDB          = "sheetsync.db"
	DefaultSnapshotDir = "./snapshots"
	DefaultHTTPTimeout = 30 * time.Second
)

// DefaultEnvFiles are tried in order when no env file is given.
var DefaultEnvFiles = []string{".env", "../.env"}

// Config holds the settings flags fall back to.
type Config struct {
	DB              string
	SheetsAPIKey    string
	CredentialsFile string
	SnapshotsDir    string
	HTTPTimeout     time.Duration
}

// LoadEnv loads path into the process environment, or the first readable
// default file when path is empty. Variables already set are not
// overwritten. It returns the file that was loaded, if any.
func LoadEnv(path string) (string, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return "", fmt.Errorf("load env file %s: %w", path, err)
		}
		return path, nil
	}
	for _, p := range DefaultEnvFiles {
		if err := godotenv.Load(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// FromEnv reads Config from the environment, applying defaults.
func FromEnv() (Config, error) {
	c := Config{
		DB:              envOr(EnvDB, DefaultDB),
		SheetsAPIKey:    strings.TrimSpace(os.Getenv(EnvSheetsAPIKey)),
		CredentialsFile: strings.TrimSpace(os.Getenv(EnvCredentials)),
		SnapshotsDir:    envOr(EnvSnapshotsDir, DefaultSnapshotDir),
		HTTPTimeout:     DefaultHTTPTimeout,
	}
	if v := strings.TrimSpace(os.Getenv(EnvHTTPTimeout)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvHTTPTimeout, err)
		}
		if d <= 0 {
			return c, fmt.Errorf("%s must be positive, got %s", EnvHTTPTimeout, v)
		}
		c.HTTPTimeout = d
	}
	return c, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
