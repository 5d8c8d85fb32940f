package index

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// migrateDB brings the index database up to the latest embedded schema.
// The applied version is tracked in SQLite's user_version pragma. The
// index is a derived cache, so a botched upgrade is always recoverable
// by deleting the file and rebuilding.
func migrateDB(db *sql.DB) error {
	var current int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	names, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		version, err := schemaVersion(name)
		if err != nil {
			return err
		}
		if version <= current {
			continue
		}
		ddl, err := schemaFS.ReadFile(name)
		if err != nil {
			return err
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(ddl)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("stamp %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		current = version
	}
	return nil
}

// schemaVersion parses the numeric prefix of an embedded schema file,
// e.g. "sql/0001_work_items.sql" -> 1.
func schemaVersion(name string) (int, error) {
	base := strings.TrimPrefix(name, "sql/")
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, fmt.Errorf("schema file %s has no version prefix", base)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("schema file %s: bad version prefix: %w", base, err)
	}
	return v, nil
}
