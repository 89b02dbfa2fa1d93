package store

import (
	"database/sql"
	"errors"
	"time"
)

// Import records the last successful load of a JSON file.
type Import struct {
	Path       string
	Kind       string
	Hash       string
	Records    int
	ImportedAt time.Time
}

// LastImport returns the recorded import of path. ok is false when the file
// was never imported.
func (s *Store) LastImport(path string) (imp Import, ok bool, err error) {
	err = s.db.QueryRow(
		`SELECT path, kind, hash, records, imported_at FROM imports WHERE path = ?`, path,
	).Scan(&imp.Path, &imp.Kind, &imp.Hash, &imp.Records, &imp.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Import{}, false, nil
	}
	if err != nil {
		return Import{}, false, err
	}
	return imp, true, nil
}

// RecordImport stores imp, replacing any earlier record for the same path.
// A zero ImportedAt is set to now.
func (s *Store) RecordImport(imp Import) error {
	if imp.ImportedAt.IsZero() {
		imp.ImportedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO imports (path, kind, hash, records, imported_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET kind = ?, hash = ?, records = ?, imported_at = ?`,
		imp.Path, imp.Kind, imp.Hash, imp.Records, imp.ImportedAt,
		imp.Kind, imp.Hash, imp.Records, imp.ImportedAt,
	)
	return err
}
