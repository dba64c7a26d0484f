package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	envJournalDBPath  = "CATSYNC_DB_PATH"
	defaultDBDirName  = ".catsync"
	defaultDBFileName = "records.sqlite"
	outcomesTable     = "device_outcomes"
)

// OutcomeRow is one journaled reassignment outcome, upserted by device ID so
// the journal always reflects the latest run.
type OutcomeRow struct {
	DeviceID   string
	DeviceName string
	Category   string
	CategoryID string
	Outcome    string
	Detail     string
	RecordedAt time.Time
}

// Journal keeps reassignment outcomes in a local SQLite database for audit
// and manual remediation after a run.
type Journal struct {
	db   *sql.DB
	stmt *sql.Stmt
}

// OpenJournal opens (and initializes) the journal database.
func OpenJournal() (*Journal, error) {
	path, err := ResolveDatabasePath()
	if err != nil {
		return nil, errors.Wrap(err, "resolve journal database path failed")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open journal database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := prepareUpsert(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, stmt: stmt}, nil
}

// RecordOutcome upserts one outcome row.
func (j *Journal) RecordOutcome(ctx context.Context, row OutcomeRow) error {
	if j == nil || j.stmt == nil {
		return errors.New("journal is not open")
	}
	deviceID := strings.TrimSpace(row.DeviceID)
	if deviceID == "" {
		return errors.New("journal outcome missing device id")
	}
	recordedAt := row.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := j.stmt.ExecContext(ctx,
		deviceID,
		strings.TrimSpace(row.DeviceName),
		strings.TrimSpace(row.Category),
		strings.TrimSpace(row.CategoryID),
		strings.TrimSpace(row.Outcome),
		strings.TrimSpace(row.Detail),
		recordedAt.UTC().Format(time.RFC3339),
	)
	return errors.Wrap(err, "journal upsert failed")
}

// Close releases the prepared statement and database handle.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	if j.stmt != nil {
		_ = j.stmt.Close()
	}
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// ResolveDatabasePath returns the journal path, honoring CATSYNC_DB_PATH and
// defaulting to ~/.catsync/records.sqlite.
func ResolveDatabasePath() (string, error) {
	if val := strings.TrimSpace(os.Getenv(envJournalDBPath)); val != "" {
		if err := ensureDirExists(filepath.Dir(val)); err != nil {
			return "", err
		}
		return val, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user home dir failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "execute sqlite pragma %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func ensureSchema(db *sql.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS ` + outcomesTable + ` (
	device_id   TEXT PRIMARY KEY,
	device_name TEXT,
	category    TEXT,
	category_id TEXT,
	outcome     TEXT,
	detail      TEXT,
	recorded_at TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "create journal schema failed")
	}
	return nil
}

func prepareUpsert(db *sql.DB) (*sql.Stmt, error) {
	query := `INSERT INTO ` + outcomesTable + `
	(device_id, device_name, category, category_id, outcome, detail, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
	device_name = excluded.device_name,
	category    = excluded.category,
	category_id = excluded.category_id,
	outcome     = excluded.outcome,
	detail      = excluded.detail,
	recorded_at = excluded.recorded_at;`
	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, errors.Wrap(err, "prepare journal upsert failed")
	}
	return stmt, nil
}
