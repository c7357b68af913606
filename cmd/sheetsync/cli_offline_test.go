package main_test

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func buildCLI(t *testing.T, dir string) string {
	t.Helper()
	bin := filepath.Join(dir, "sheetsync.bin")
	build := exec.Command("go", "build", "-o", bin, "github.com/japaniel/sheetsync/cmd/sheetsync")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		t.Fatalf("failed to build CLI: %v", err)
	}
	return bin
}

func TestCLI_OfflineServer(t *testing.T) {
	tmp := t.TempDir()

	body, err := os.ReadFile(filepath.Join("..", "..", "pkg", "sheetsync", "testdata", "leaderboard.csv"))
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Write(body)
	}))
	defer srv.Close()

	dbPath := filepath.Join(tmp, "sheetsync.db")
	snapDir := filepath.Join(tmp, "snaps")
	bin := buildCLI(t, tmp)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, bin, "--csv", srv.URL+"/export?format=csv", "--db", dbPath, "--snapshots-dir", snapDir)
	cmd.Dir = tmp
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		t.Fatalf("cli timed out, output:\n%s", out)
	}
	if err != nil {
		t.Fatalf("cli failed: %v\noutput:\n%s", err, out)
	}
	if !strings.Contains(string(out), "Import complete") {
		t.Fatalf("unexpected CLI output; expected success message, got:\n%s", out)
	}

	dbConn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer dbConn.Close()

	for table, want := range map[string]int{"maps": 3, "clears": 3, "snapshots": 1} {
		var cnt int
		if err := dbConn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&cnt); err != nil {
			t.Fatalf("db query failed: %v", err)
		}
		if cnt != want {
			t.Fatalf("expected %d rows in %s, found %d", want, table, cnt)
		}
	}
	files, err := os.ReadDir(snapDir)
	if err != nil || len(files) != 1 || !strings.HasSuffix(files[0].Name(), ".csv") {
		t.Fatalf("expected one archived csv, got %v (%v)", files, err)
	}
}

func TestCLI_RequiresSource(t *testing.T) {
	tmp := t.TempDir()
	bin := buildCLI(t, tmp)

	cmd := exec.Command(bin, "--db", filepath.Join(tmp, "x.db"))
	cmd.Dir = tmp
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected non-zero exit without a source, output:\n%s", out)
	}
	if !strings.Contains(string(out), "Usage:") {
		t.Fatalf("expected usage, got:\n%s", out)
	}
}
