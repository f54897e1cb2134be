// Package store provides the durable, transactional row store backing the
// job orchestration substrate. Three logical SQLite databases are opened in
// WAL mode: meridian (jobs, executions, nonces, audit), journal (episodic
// memory, out of scope for this core's own logic but present so retention
// can address it), and sentinel (validator decisions).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/meridian/*.sql
var meridianMigrations embed.FS

//go:embed migrations/journal/*.sql
var journalMigrations embed.FS

//go:embed migrations/sentinel/*.sql
var sentinelMigrations embed.FS

// Database names, also used as the backup file stem under <dataDir>/backups.
const (
	DBMeridian = "meridian"
	DBJournal  = "journal"
	DBSentinel = "sentinel"
)

// Store holds open handles to all three logical databases.
type Store struct {
	Meridian *sqlx.DB
	Journal  *sqlx.DB
	Sentinel *sqlx.DB

	dataDir string
}

// Open opens (creating if necessary) the three SQLite databases under
// dataDir, enables WAL mode and foreign keys on each, and runs goose
// migrations to head.
func Open(ctx context.Context, dataDir string) (*Store, error) {
	s := &Store{dataDir: dataDir}

	meridian, err := openOne(filepath.Join(dataDir, DBMeridian+".db"), meridianMigrations, "migrations/meridian")
	if err != nil {
		return nil, fmt.Errorf("open meridian: %w", err)
	}
	s.Meridian = meridian

	journal, err := openOne(filepath.Join(dataDir, DBJournal+".db"), journalMigrations, "migrations/journal")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.Journal = journal

	sentinel, err := openOne(filepath.Join(dataDir, DBSentinel+".db"), sentinelMigrations, "migrations/sentinel")
	if err != nil {
		return nil, fmt.Errorf("open sentinel: %w", err)
	}
	s.Sentinel = sentinel

	return s, nil
}

func openOne(path string, fsys embed.FS, dir string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers; serialize via a single conn.

	goose.SetBaseFS(fsys)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, err
	}
	if err := goose.Up(db.DB, dir); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", dir, err)
	}
	return db, nil
}

// Close closes all three database handles, returning the first error
// encountered (if any) after attempting all three.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*sqlx.DB{s.Meridian, s.Journal, s.Sentinel} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DataDir returns the directory this store's databases live under, used by
// the retention/backup package to locate the raw files to snapshot.
func (s *Store) DataDir() string { return s.dataDir }

// WithTx runs fn inside a transaction on db, committing on success and
// rolling back on error or panic. The Job Queue does not use it: its
// transition and claim operations issue their compare-and-set UPDATEs
// directly on the database handle.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
