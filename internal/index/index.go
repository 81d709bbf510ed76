// Package index keeps a SQLite ledger of harvest runs: one row per run, one
// per processed item and one per retained source file with its content
// digest.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matsen/texharvest/internal/report"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the ledger's name inside the output root.
const DefaultFileName = "index.db"

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	// Workers record items concurrently; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			total INTEGER NOT NULL,
			successful INTEGER
		);

		CREATE TABLE IF NOT EXISTS items (
			run_id TEXT NOT NULL,
			arxiv_id TEXT NOT NULL,
			status TEXT NOT NULL,
			versions TEXT NOT NULL,
			tex_files INTEGER NOT NULL,
			bib_files INTEGER NOT NULL,
			references_count INTEGER NOT NULL,
			size_before INTEGER NOT NULL,
			size_after INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, arxiv_id)
		);

		CREATE TABLE IF NOT EXISTS files (
			run_id TEXT NOT NULL,
			arxiv_id TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (run_id, arxiv_id, path)
		);

		CREATE INDEX IF NOT EXISTS idx_files_digest ON files(digest);
	`
	_, err := db.Exec(schema)
	return err
}

// BeginRun records the start of a run.
func (d *DB) BeginRun(runID string, started time.Time, total int) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO runs (run_id, started_at, total) VALUES (?, ?, ?)`,
		runID, started.UTC().Format(time.RFC3339), total,
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun records the end of a run.
func (d *DB) FinishRun(runID string, finished time.Time, successful int) error {
	_, err := d.db.Exec(
		`UPDATE runs SET finished_at = ?, successful = ? WHERE run_id = ?`,
		finished.UTC().Format(time.RFC3339), successful, runID,
	)
	if err != nil {
		return fmt.Errorf("recording run end: %w", err)
	}
	return nil
}

// RecordItem stores p and a digest of every file under texRoot, replacing
// anything recorded for the same item in the same run.
func (d *DB) RecordItem(runID string, p report.Paper, texRoot string) error {
	files, err := DigestTree(texRoot)
	if err != nil {
		return err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO items (
			run_id, arxiv_id, status, versions, tex_files, bib_files,
			references_count, size_before, size_after, error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.ID, p.Status, joinVersions(p.VersionsFound), p.TexFiles, p.BibFiles,
		p.ReferencesCount, p.SizeBefore, p.SizeAfter, nullIfEmpty(p.Error),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording item %s: %w", p.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM files WHERE run_id = ? AND arxiv_id = ?`, runID, p.ID); err != nil {
		return fmt.Errorf("clearing files of %s: %w", p.ID, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO files (run_id, arxiv_id, path, size, digest) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file insert: %w", err)
	}
	defer stmt.Close()
	for _, f := range files {
		if _, err := stmt.Exec(runID, p.ID, f.Path, f.Size, f.Digest); err != nil {
			return fmt.Errorf("recording file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
