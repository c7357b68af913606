package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// InitDB runs migrations on the given DB connection using the embedded SQL.
func InitDB(db *sql.DB) error {
	stmts := strings.Split(migrationsSQL, ";")
	for _, s := range stmts {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Driver returns the store flavour a DSN selects: "postgres", "libsql" or "sqlite3".
func Driver(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(dsn, "libsql://"):
		return "libsql"
	default:
		return "sqlite3"
	}
}

// ErrNoSchema is returned by OpenExisting when the store has not been migrated.
var ErrNoSchema = errors.New("db: schema not initialised")

// schemaTables are the tables every store must have.
var schemaTables = []string{"creators", "players", "maps", "clears", "snapshots"}

// Open connects to the store named by dsn and makes sure its schema exists.
// postgres:// DSNs use pgx, libsql:// DSNs talk to a remote SQLite (Turso),
// anything else is a local SQLite path or ":memory:".
func Open(ctx context.Context, dsn string) (Store, error) {
	return open(ctx, dsn, true)
}

// OpenExisting connects without creating anything: no file, no tables. It
// returns an error wrapping ErrNoSchema when the database or one of its
// tables is missing.
func OpenExisting(ctx context.Context, dsn string) (Store, error) {
	return open(ctx, dsn, false)
}

func open(ctx context.Context, dsn string, migrate bool) (Store, error) {
	driver := Driver(dsn)
	if driver == "postgres" {
		pg, err := connectPG(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			err = pg.migrate(ctx)
		} else {
			err = pg.checkSchema(ctx)
		}
		if err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}

	if !migrate && driver == "sqlite3" {
		var err error
		if dsn, err = readOnlySQLite(dsn); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// Single writer; also keeps ":memory:" to one database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	if migrate {
		err = InitDB(conn)
	} else {
		err = checkSQLiteSchema(ctx, conn)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewSQLStore(conn), nil
}

// readOnlySQLite rewrites a SQLite DSN so opening it cannot create the file.
func readOnlySQLite(dsn string) (string, error) {
	if dsn == ":memory:" {
		return dsn, nil
	}
	if !strings.HasPrefix(dsn, "file:") {
		if _, err := os.Stat(dsn); err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s does not exist", ErrNoSchema, dsn)
			}
			return "", fmt.Errorf("stat %s: %w", dsn, err)
		}
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "mode=") {
		return dsn, nil
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&mode=ro", nil
	}
	return dsn + "?mode=ro", nil
}

func checkSQLiteSchema(ctx context.Context, conn *sql.DB) error {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return missingTables(have)
}

func missingTables(have map[string]bool) error {
	var missing []string
	for _, t := range schemaTables {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing tables %s", ErrNoSchema, strings.Join(missing, ", "))
	}
	return nil
}
