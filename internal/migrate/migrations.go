// Package migrate applies the embedded schema revisions to the apiary
// database. Revisions are sql/NNN_name.sql files; the applied version is
// tracked in a single-row schema_version table.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
)

//go:embed sql/*.sql
var schemaFS embed.FS

type revision struct {
	version int
	name    string
	ddl     string
}

// Migrate brings the database to the latest embedded revision. All pending
// revisions apply inside one transaction; a failing revision rolls back the
// whole batch.
func Migrate(db *sql.DB) error {
	revisions, err := embeddedRevisions()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := currentVersion(tx)
	if err != nil {
		return err
	}
	applied := current
	for _, r := range revisions {
		if r.version <= current {
			continue
		}
		if _, err := tx.Exec(r.ddl); err != nil {
			return fmt.Errorf("revision %s: %w", r.name, err)
		}
		applied = r.version
	}
	if applied != current {
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, applied); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}
	return tx.Commit()
}

func embeddedRevisions() ([]revision, error) {
	entries, err := schemaFS.ReadDir("sql")
	if err != nil {
		return nil, err
	}
	revisions := make([]revision, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var v int
		if _, err := fmt.Sscanf(name, "%d_", &v); err != nil || v < 1 {
			return nil, fmt.Errorf("revision file %s: name must start with a positive version number", name)
		}
		ddl, err := schemaFS.ReadFile("sql/" + name)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, revision{version: v, name: name, ddl: string(ddl)})
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i].version < revisions[j].version })
	return revisions, nil
}

func currentVersion(tx *sql.Tx) (int, error) {
	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("init schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
