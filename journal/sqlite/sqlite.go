// Package sqlite provides the SQLite-backed Journal implementation.
// It uses modernc.org/sqlite (pure Go, no CGO) so the binary is fully static
// and works in scratch/alpine Docker images without a C compiler.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/whisper-darkly/sentinel-backend/journal"
)

// DB implements journal.Journal using SQLite via database/sql.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite serialises writes; one connection avoids SQLITE_BUSY on writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	j := &DB{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

// migrate applies the schema.  New versions should only ADD statements here
// so that existing databases keep working without a migration tool.
func (j *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			entity TEXT NOT NULL,
			name   TEXT NOT NULL,
			event  TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ts     TEXT NOT NULL
		)`,

		// Both queries order by rowid; the only filter is entity + name
		// (per-entity history).
		`CREATE INDEX IF NOT EXISTS idx_entries_entity_name
			ON entries(entity, name)`,
	}

	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (j *DB) Record(ctx context.Context, entity journal.EntityKind, name, event, detail string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO entries (entity, name, event, detail, ts)
		VALUES (?, ?, ?, ?, ?)
	`, string(entity), name, event, detail, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (j *DB) RecentEntries(ctx context.Context, limit int) ([]journal.Entry, error) {
	return j.queryEntries(ctx, `
		SELECT id, entity, name, event, detail, ts
		  FROM entries
		 ORDER BY id DESC
		 LIMIT ?
	`, limit)
}

func (j *DB) EntriesFor(ctx context.Context, entity journal.EntityKind, name string, limit int) ([]journal.Entry, error) {
	return j.queryEntries(ctx, `
		SELECT id, entity, name, event, detail, ts
		  FROM entries
		 WHERE entity = ? AND name = ?
		 ORDER BY id DESC
		 LIMIT ?
	`, string(entity), name, limit)
}

func (j *DB) Close() error { return j.db.Close() }

// ---- internal helpers ----

func (j *DB) queryEntries(ctx context.Context, q string, args ...any) ([]journal.Entry, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var entity, ts string
		if err := rows.Scan(&e.ID, &entity, &e.Name, &e.Event, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.Entity = journal.EntityKind(entity)
		e.TS, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ journal.Journal = (*DB)(nil)
