// Package index maintains a SQLite listing index over the work root. The
// JSON files on disk stay authoritative; the index is a derived cache for
// fast filtered listings and can be deleted and rebuilt at any time.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"laneguard/internal/domain"
	"laneguard/internal/store"
)

const dbName = "laneguard.db"

type Index struct {
	db *sql.DB
}

func dbPath(workRoot string) string {
	if workRoot == "" {
		workRoot = "."
	}
	return filepath.Join(workRoot, ".index", dbName)
}

// Path returns the index location under a work root.
func Path(workRoot string) string {
	return dbPath(workRoot)
}

// Open opens (creating if needed) the index database and applies pending
// migrations.
func Open(workRoot string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath(workRoot)), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(workRoot))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Index{db: conn}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Row is one indexed work item.
type Row struct {
	WorkID         string `json:"work_id"`
	Title          string `json:"title,omitempty"`
	TeamID         string `json:"team_id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Stage          string `json:"stage"`
	BlockingReason string `json:"blocking_reason,omitempty"`
	HighestRisk    string `json:"highest_risk,omitempty"`
	BundleHash     string `json:"bundle_hash,omitempty"`
	PRNumber       int    `json:"pr_number,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

// Upsert refreshes one item's row from its authoritative snapshots.
func (ix *Index) Upsert(meta domain.WorkItem, st domain.StatusSnapshot) error {
	_, err := ix.db.Exec(`
		INSERT INTO work_items (work_id, title, team_id, kind, stage, blocking_reason, highest_risk, bundle_hash, pr_number, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(work_id) DO UPDATE SET
			title=excluded.title, team_id=excluded.team_id, kind=excluded.kind,
			stage=excluded.stage, blocking_reason=excluded.blocking_reason,
			highest_risk=excluded.highest_risk, bundle_hash=excluded.bundle_hash,
			pr_number=excluded.pr_number, updated_at=excluded.updated_at`,
		st.WorkID, meta.Title, meta.TeamID, meta.Kind, st.Stage, st.BlockingReason,
		st.HighestRisk, st.BundleHash, st.PRNumber, st.UpdatedAt)
	return err
}

// ListOptions filter List results. Empty fields match everything.
type ListOptions struct {
	Stage  string
	TeamID string
	Limit  int
}

// List returns indexed rows, newest first.
func (ix *Index) List(opts ListOptions) ([]Row, error) {
	q := `SELECT work_id, title, team_id, kind, stage, blocking_reason, highest_risk, bundle_hash, pr_number, updated_at FROM work_items WHERE 1=1`
	var args []any
	if opts.Stage != "" {
		q += ` AND stage = ?`
		args = append(args, opts.Stage)
	}
	if opts.TeamID != "" {
		q += ` AND team_id = ?`
		args = append(args, opts.TeamID)
	}
	q += ` ORDER BY updated_at DESC`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := ix.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.WorkID, &r.Title, &r.TeamID, &r.Kind, &r.Stage, &r.BlockingReason,
			&r.HighestRisk, &r.BundleHash, &r.PRNumber, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild drops all rows and re-derives the index from the work root.
// Items with a missing or unreadable status file are skipped; the files
// remain the source of truth.
func (ix *Index) Rebuild(st store.Store) (int, error) {
	ids, err := st.ListWorkItems()
	if err != nil {
		return 0, err
	}
	if _, err := ix.db.Exec(`DELETE FROM work_items`); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		snap, err := st.GetStatus(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return n, err
		}
		meta, err := st.GetMeta(id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return n, err
		}
		if err := ix.Upsert(meta, snap); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
