package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDB, EnvSheetsAPIKey, EnvCredentials, EnvSnapshotsDir, EnvHTTPTimeout} {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if c.DB != DefaultDB || c.SnapshotsDir != DefaultSnapshotDir || c.HTTPTimeout != DefaultHTTPTimeout {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDB, "postgres://localhost/board")
	t.Setenv(EnvSheetsAPIKey, " key ")
	t.Setenv(EnvSnapshotsDir, "/tmp/snaps")
	t.Setenv(EnvHTTPTimeout, "5s")
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if c.DB != "postgres://localhost/board" || c.SheetsAPIKey != "key" || c.SnapshotsDir != "/tmp/snaps" || c.HTTPTimeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestFromEnvBadTimeout(t *testing.T) {
	clearEnv(t)
	for _, v := range []string{"soon", "-1s"} {
		t.Setenv(EnvHTTPTimeout, v)
		if _, err := FromEnv(); err == nil {
			t.Fatalf("expected error for %q", v)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SHEETSYNC_DB=from-file.db\nSHEETS_API_KEY=abc\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Values already present in the environment win over the file.
	t.Setenv(EnvSheetsAPIKey, "from-env")
	os.Unsetenv(EnvDB)

	loaded, err := LoadEnv(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != path {
		t.Fatalf("expected %s loaded, got %q", path, loaded)
	}
	c, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if c.DB != "from-file.db" || c.SheetsAPIKey != "from-env" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if _, err := LoadEnv(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatalf("expected error for missing explicit env file")
	}
}
