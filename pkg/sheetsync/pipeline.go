// Package sheetsync runs one import: fetch the table, gate it on its content
// hash, parse and interpret it, reconcile it against the store and report.
package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/japaniel/sheetsync/pkg/db"
	"github.com/japaniel/sheetsync/pkg/grammar"
	"github.com/japaniel/sheetsync/pkg/reconcile"
	"github.com/japaniel/sheetsync/pkg/sheet"
	"github.com/japaniel/sheetsync/pkg/snapshot"
	"github.com/japaniel/sheetsync/pkg/source"
)

// Options configures a run.
type Options struct {
	Source  source.Source
	Gateway db.Gateway
	DryRun  bool
	// SnapshotsDir receives an archive copy of the fetched content on live runs.
	SnapshotsDir string

	// Logger receives warnings, prefixed with the run id. nil means no logging.
	Logger *log.Logger
	// Out receives the report. nil means io.Discard.
	Out io.Writer

	// Dates fills upload dates on new clears. nil disables the lookup.
	Dates      reconcile.DateLookup
	MapWorkers int
	ClearBatch int

	// Now defaults to time.Now.
	Now func() time.Time
	// RunID defaults to a fresh uuid.
	RunID string
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Fingerprint snapshot.Fingerprint
	Decision    snapshot.Decision
	// ArchivePath is empty when nothing was archived.
	ArchivePath string
	// SnapshotID is zero unless a new snapshot record was inserted.
	SnapshotID int64
	Rows       int
	Report     *reconcile.Report
}

// Run executes one import.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Source == nil {
		return nil, errors.New("sheetsync: no source")
	}
	if opts.Gateway == nil {
		return nil, errors.New("sheetsync: no gateway")
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := runLogger(opts.Logger, runID)
	res := &Result{RunID: runID}

	fetched, err := opts.Source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	capturedAt := now()

	res.Fingerprint = snapshot.Sum(fetched.Raw)
	existing, err := opts.Gateway.FindSnapshotByHash(ctx, res.Fingerprint.SHA256)
	if err != nil {
		return nil, fmt.Errorf("look up snapshot: %w", err)
	}
	res.Decision = snapshot.Decide(existing, opts.DryRun)
	if res.Decision.Unchanged {
		fmt.Fprintf(out, "Source unchanged since %s (sha256 %s)\n", existing.CapturedAt.UTC().Format(time.RFC3339), res.Fingerprint.Short())
	} else {
		fmt.Fprintf(out, "New source content (sha256 %s, %d bytes)\n", res.Fingerprint.Short(), res.Fingerprint.Size)
	}

	parser := &sheet.Parser{Logger: logger}
	parsed, err := parser.Parse(fetched.Grid)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	res.Rows = len(parsed)

	rows := Interpret(parsed, &grammar.Interpreter{Logger: logger})

	engine := &reconcile.Engine{
		Gateway:        opts.Gateway,
		DryRun:         opts.DryRun,
		Logger:         logger,
		MapWorkers:     opts.MapWorkers,
		ClearBatchSize: opts.ClearBatch,
	}
	if !opts.DryRun {
		engine.Dates = opts.Dates
	}
	report, err := engine.Run(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	res.Report = report

	if res.Decision.WriteArchive && opts.SnapshotsDir != "" {
		path, err := snapshot.Archive(opts.SnapshotsDir, fetched.Kind.Ext(), fetched.Raw, res.Fingerprint, capturedAt)
		if err != nil {
			return nil, err
		}
		res.ArchivePath = path
	}
	if res.Decision.RecordNew {
		id, err := opts.Gateway.CreateSnapshot(ctx, db.Snapshot{
			SourceURL:  fetched.Descriptor,
			SourceKind: string(fetched.Kind),
			SHA256:     res.Fingerprint.SHA256,
			ByteLength: res.Fingerprint.Size,
			CapturedAt: capturedAt.UTC(),
			RunID:      runID,
		})
		if err != nil {
			return nil, fmt.Errorf("record snapshot: %w", err)
		}
		res.SnapshotID = id
	}

	report.Print(out)
	if opts.DryRun {
		fmt.Fprintln(out, "Dry run complete, no changes written")
	} else {
		fmt.Fprintln(out, "Import complete")
	}
	return res, nil
}

// Interpret attaches the interpreted player cells to each parsed row.
// Cells the grammar rejects are dropped.
func Interpret(parsed []sheet.ParsedRow, in *grammar.Interpreter) []reconcile.Row {
	rows := make([]reconcile.Row, 0, len(parsed))
	for _, p := range parsed {
		r := reconcile.Row{ParsedRow: p, Clears: make(map[string]grammar.ClearRecord, len(p.PlayerCells))}
		for handle, raw := range p.PlayerCells {
			if rec := in.Interpret(raw); rec != nil {
				r.Clears[handle] = *rec
			}
		}
		rows = append(rows, r)
	}
	return rows
}

func runLogger(base *log.Logger, runID string) *log.Logger {
	if base == nil {
		return nil
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return log.New(base.Writer(), base.Prefix()+"["+short+"] ", base.Flags())
}
