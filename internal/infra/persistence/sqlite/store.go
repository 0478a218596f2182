// Package sqlite provides the SQLite-backed record store. Several worker
// processes may share one database file; writes are serialised by SQLite's
// file lock and every transaction takes the write lock up front.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"synister/internal/infra/persistence/sqlstore"
	"synister/internal/schema/sqlbundle"
	"synister/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "synister.db"

// Store is a sqlstore.Store bound to a database file.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating when needed) the database at path and applies the schema.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	store := sqlstore.New(db, sqlstore.DialectSQLite, engine)
	if err := store.ApplySchema(context.Background(), sqlbundle.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}
