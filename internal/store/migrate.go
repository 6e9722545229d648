package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

// migrationLock is the advisory lock key held while migrations run so
// that concurrently starting servers apply them once.
const migrationLock = 72_410_001

var migrationName = regexp.MustCompile(`^(\d+)_[A-Za-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema step. Version is the up file name,
// which is what schema_migrations records.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// LoadMigrations pairs the up and down files of dir, ordered by number.
// Files that do not follow the NNNN_name.(up|down).sql pattern are ignored.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byNumber := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, direction := match[1], match[2]
		m := byNumber[number]
		if m == nil {
			m = &Migration{}
			byNumber[number] = m
		}
		path := filepath.Join(dir, entry.Name())
		if direction == "up" {
			if m.Up != "" {
				return nil, fmt.Errorf("migration %s has more than one up file", number)
			}
			m.Version, m.Up = entry.Name(), path
		} else {
			if m.Down != "" {
				return nil, fmt.Errorf("migration %s has more than one down file", number)
			}
			m.Down = path
		}
	}

	out := make([]Migration, 0, len(byNumber))
	for number, m := range byNumber {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up file", number)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every pending up migration of dir.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	_, err := Migrate(ctx, db, migrationsDir)
	return err
}

// Migrate runs every pending up migration, each in its own transaction,
// and returns the versions applied.
func Migrate(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		done, err := runLocked(ctx, db, m.Version, func(tx *sql.Tx) (bool, error) {
			if migrated, err := isMigrated(ctx, tx, m.Version); err != nil || migrated {
				return false, err
			}
			if err := execFile(ctx, tx, m.Up); err != nil {
				return false, err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
				return false, fmt.Errorf("record migration %s: %w", m.Version, err)
			}
			return true, nil
		})
		if err != nil {
			return applied, err
		}
		if done {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

// Rollback reverts the latest steps applied migrations using their down
// files and returns the versions reverted, newest first.
func Rollback(ctx context.Context, db *sql.DB, migrationsDir string, steps int) ([]string, error) {
	migrations, err := LoadMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(migrations) - 1; i >= 0 && len(reverted) < steps; i-- {
		m := migrations[i]
		done, err := runLocked(ctx, db, m.Version, func(tx *sql.Tx) (bool, error) {
			if migrated, err := isMigrated(ctx, tx, m.Version); err != nil || !migrated {
				return false, err
			}
			if m.Down == "" {
				return false, fmt.Errorf("migration %s has no down file", m.Version)
			}
			if err := execFile(ctx, tx, m.Down); err != nil {
				return false, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, m.Version); err != nil {
				return false, fmt.Errorf("unrecord migration %s: %w", m.Version, err)
			}
			return true, nil
		})
		if err != nil {
			return reverted, err
		}
		if done {
			reverted = append(reverted, m.Version)
		}
	}
	return reverted, nil
}

// runLocked runs fn in a transaction holding the migration advisory lock.
// The transaction commits only when fn reports a change.
func runLocked(ctx context.Context, db *sql.DB, version string, fn func(*sql.Tx) (bool, error)) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}
	changed, err := fn(tx)
	if err != nil || !changed {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}

func execFile(ctx context.Context, tx *sql.Tx, path string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", filepath.Base(path), err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", filepath.Base(path), err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, tx *sql.Tx, version string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
