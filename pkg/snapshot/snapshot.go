// Package snapshot fingerprints fetched source content and keeps the audit
// trail of every distinct fingerprint seen.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/japaniel/sheetsync/pkg/db"
)

// Fingerprint identifies a fetched payload.
type Fingerprint struct {
	SHA256 string
	Size   int64
}

// Sum hashes raw.
func Sum(raw []byte) Fingerprint {
	h := sha256.Sum256(raw)
	return Fingerprint{SHA256: hex.EncodeToString(h[:]), Size: int64(len(raw))}
}

// Short returns the first 8 hex characters of the hash.
func (f Fingerprint) Short() string {
	if len(f.SHA256) < 8 {
		return f.SHA256
	}
	return f.SHA256[:8]
}

// Decision says what the pipeline does with a fingerprint. The import itself
// always proceeds; Unchanged only affects logging.
type Decision struct {
	Unchanged    bool
	RecordNew    bool
	WriteArchive bool
}

// Decide applies the snapshot policy: a record is inserted only for unseen
// hashes, and an archive copy is written on every live run.
func Decide(existing *db.Snapshot, dryRun bool) Decision {
	return Decision{
		Unchanged:    existing != nil,
		RecordNew:    existing == nil && !dryRun,
		WriteArchive: !dryRun,
	}
}

// FileName is the archive name for content captured at t.
func FileName(fp Fingerprint, ext string, t time.Time) string {
	if ext == "" {
		ext = "txt"
	}
	return fmt.Sprintf("%s-%s.%s", t.UTC().Format("20060102T150405Z"), fp.Short(), ext)
}

// Archive writes raw into dir under FileName and returns the written path.
func Archive(dir, ext string, raw []byte, fp Fingerprint, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshots dir: %w", err)
	}
	path := filepath.Join(dir, FileName(fp, ext, t))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}
