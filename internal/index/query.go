package index

import (
	"database/sql"
	"fmt"
	"strings"
)

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Recorded   int    `json:"recorded"`
	Files      int    `json:"files"`
}

// ItemRow is one recorded item.
type ItemRow struct {
	ArxivID    string   `json:"arxiv_id"`
	Status     string   `json:"status"`
	Versions   []string `json:"versions"`
	TexFiles   int      `json:"tex_files"`
	BibFiles   int      `json:"bib_files"`
	References int      `json:"references_count"`
	SizeBefore int64    `json:"size_before"`
	SizeAfter  int64    `json:"size_after"`
	Error      string   `json:"error,omitempty"`
}

// Runs returns the most recent runs, newest first.
func (d *DB) Runs(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.db.Query(`
		SELECT r.run_id, r.started_at, COALESCE(r.finished_at, ''), r.total,
			COALESCE(r.successful, 0),
			(SELECT COUNT(*) FROM items i WHERE i.run_id = r.run_id),
			(SELECT COUNT(*) FROM files f WHERE f.run_id = r.run_id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Successful, &r.Recorded, &r.Files); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Items returns the items recorded for runID ordered by ID.
func (d *DB) Items(runID string) ([]ItemRow, error) {
	rows, err := d.db.Query(`
		SELECT arxiv_id, status, versions, tex_files, bib_files, references_count,
			size_before, size_after, COALESCE(error, '')
		FROM items WHERE run_id = ? ORDER BY arxiv_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []ItemRow
	for rows.Next() {
		var it ItemRow
		var versions string
		if err := rows.Scan(&it.ArxivID, &it.Status, &versions, &it.TexFiles, &it.BibFiles,
			&it.References, &it.SizeBefore, &it.SizeAfter, &it.Error); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		it.Versions = []string{}
		if versions != "" {
			it.Versions = strings.Split(versions, ",")
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Files returns the digests recorded for one item in runID.
func (d *DB) Files(runID, arxivID string) ([]FileRecord, error) {
	rows, err := d.db.Query(
		`SELECT path, size, digest FROM files WHERE run_id = ? AND arxiv_id = ? ORDER BY path`,
		runID, arxivID)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.Path, &f.Size, &f.Digest); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// LatestRunID returns the most recently started run, or "" if none.
func (d *DB) LatestRunID() (string, error) {
	var id string
	err := d.db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying latest run: %w", err)
	}
	return id, nil
}
