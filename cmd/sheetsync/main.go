package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/japaniel/sheetsync/pkg/config"
	"github.com/japaniel/sheetsync/pkg/db"
	"github.com/japaniel/sheetsync/pkg/sheetsync"
	"github.com/japaniel/sheetsync/pkg/source"
	"github.com/japaniel/sheetsync/pkg/videodate"
)

type flags struct {
	csv          string
	sheet        string
	sheetName    string
	xlsx         string
	snapshotsDir string
	dryRun       bool
	dbDSN        string
	envFile      string
	videoDates   bool
	schedule     string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "sheetsync",
		Short: "Import the leaderboard sheet into the store",
		Long: `sheetsync fetches the leaderboard table (CSV export, Google Sheets tab or
.xlsx workbook), parses it and reconciles maps, creators, players and clears
against the store. Re-running on an unchanged table makes no changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run(cmd, f, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	fl := cmd.Flags()
	fl.StringVar(&f.csv, "csv", "", "CSV export URL or file path")
	fl.StringVar(&f.sheet, "sheet", "", "Google Sheets URL or spreadsheet id")
	fl.StringVar(&f.xlsx, "xlsx", "", ".xlsx workbook URL or file path")
	fl.StringVar(&f.sheetName, "sheet-name", "", "tab to read with --sheet or --xlsx (default first tab)")
	fl.StringVar(&f.snapshotsDir, "snapshots-dir", config.DefaultSnapshotDir, "directory for archived source copies")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print the change set without writing anything")
	fl.StringVar(&f.dbDSN, "db", config.DefaultDB, "SQLite path, libsql:// or postgres:// DSN")
	fl.StringVar(&f.envFile, "env-file", "", "env file to load (default .env or ../.env)")
	fl.BoolVar(&f.videoDates, "lookup-video-dates", false, "fill clear dates from YouTube upload dates")
	fl.StringVar(&f.schedule, "schedule", "", "cron expression; keep running and import on this schedule")

	cmd.MarkFlagsOneRequired("csv", "sheet", "xlsx")
	cmd.MarkFlagsMutuallyExclusive("csv", "sheet", "xlsx")
	return cmd
}

func run(cmd *cobra.Command, f *flags, stdout, stderr io.Writer) error {
	ctx := cmd.Context()
	logger := log.New(stderr, "", log.LstdFlags)

	loaded, err := config.LoadEnv(f.envFile)
	if err != nil {
		return err
	}
	if loaded != "" {
		logger.Printf("Loaded environment from %s", loaded)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("db") {
		f.dbDSN = cfg.DB
	}
	if !cmd.Flags().Changed("snapshots-dir") {
		f.snapshotsDir = cfg.SnapshotsDir
	}

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	src := buildSource(f, cfg, client)

	store, err := openStore(ctx, f, stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := sheetsync.Options{
		Source:       src,
		Gateway:      store,
		DryRun:       f.dryRun,
		SnapshotsDir: f.snapshotsDir,
		Logger:       logger,
		Out:          stdout,
	}
	if f.videoDates {
		opts.Dates = videodate.New(client)
	}

	if f.schedule == "" {
		_, err := sheetsync.Run(ctx, opts)
		return err
	}
	return runScheduled(ctx, f.schedule, opts, logger)
}

// openStore migrates the store on live runs. A dry run never creates the
// database or its tables; against an uninitialised store it plans on an
// empty in-memory one.
func openStore(ctx context.Context, f *flags, stdout io.Writer) (db.Store, error) {
	if !f.dryRun {
		store, err := db.Open(ctx, f.dbDSN)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(stdout, "Database ready (%s)\n", db.Driver(f.dbDSN))
		return store, nil
	}
	store, err := db.OpenExisting(ctx, f.dbDSN)
	if errors.Is(err, db.ErrNoSchema) {
		fmt.Fprintf(stdout, "Database not initialised (%v), planning against an empty store\n", err)
		return db.Open(ctx, ":memory:")
	}
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(stdout, "Database opened without migrating (%s)\n", db.Driver(f.dbDSN))
	return store, nil
}

func buildSource(f *flags, cfg config.Config, client *http.Client) source.Source {
	switch {
	case f.sheet != "":
		return &source.SheetsSource{
			Spreadsheet:     f.sheet,
			SheetName:       f.sheetName,
			APIKey:          cfg.SheetsAPIKey,
			CredentialsFile: cfg.CredentialsFile,
		}
	case f.xlsx != "":
		return &source.XLSXSource{Location: f.xlsx, SheetName: f.sheetName, Client: client}
	default:
		return &source.CSVSource{Location: f.csv, Client: client}
	}
}

// runScheduled imports on every tick of schedule until ctx is cancelled. A tick
// that fires while the previous import is still running is skipped.
func runScheduled(ctx context.Context, schedule string, opts sheetsync.Options, logger *log.Logger) error {
	cl := cron.PrintfLogger(logger)
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(schedule, func() {
		if _, err := sheetsync.Run(ctx, opts); err != nil {
			logger.Printf("Import failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid --schedule %q: %w", schedule, err)
	}
	logger.Printf("Scheduled imports with %q, waiting for signal", schedule)
	c.Start()
	<-ctx.Done()
	logger.Printf("Shutting down, waiting for a running import")
	<-c.Stop().Done()
	return nil
}
