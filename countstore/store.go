// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package countstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	_ "github.com/mattn/go-sqlite3"
)

// Version is recorded in every store created by this package.
const Version = "1.5.0"

// Sentinel is the file name stored at index 0 of file_names.
const Sentinel = "*"

// Mode selects how Open treats an existing store.
type Mode int

const (
	// CreateNew replaces any existing store at the path.
	CreateNew Mode = iota
	// Append opens an existing store; the path must exist.
	Append
)

// Store is an open counts store. It is not safe for concurrent use, and at
// most one Store (in any process) should hold a given path at a time.
type Store struct {
	db     *sql.DB
	path   string
	schema Schema
}

// FileEntry is one row of the file registry, joined with its name.
type FileEntry struct {
	Key uint32
	// Length holds the total mapped read count of the file.
	Length uint64
	Name   string
}

// Open opens or creates the store at path. The registry tables and the
// counts table described by schema are created if absent. If the counts table
// exists with a different layout, or the store was created for another counts
// table, Open fails with errors.Invalid.
func Open(ctx context.Context, path string, schema Schema, mode Mode) (*Store, error) {
	switch mode {
	case CreateNew:
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return nil, errors.E(err, "remove stale store file", p)
			}
		}
	case Append:
		if _, err := os.Stat(path); err != nil {
			return nil, errors.E(errors.NotExist, err, "counts store", path)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.E(err, "open counts store", path)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() // nolint: errcheck
		return nil, errors.E(err, "connect to counts store", path)
	}
	// SQLite allows one writer; a single connection also keeps pragmas in
	// effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s := &Store{db: db, path: path, schema: schema}
	if err := s.init(ctx); err != nil {
		db.Close() // nolint: errcheck
		return nil, err
	}
	log.Debug.Printf("countstore: opened %s (%s)", path, schema.Table)
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS store_info (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS files (
			key    INTEGER PRIMARY KEY,
			length INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS file_names (
			idx  INTEGER PRIMARY KEY,
			name TEXT NOT NULL)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.E(err, "initialize counts store", s.path)
		}
	}

	var table string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM store_info WHERE name = 'counts_table'").Scan(&table)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return errors.E(err, "read store info", s.path)
	case table != s.schema.Table:
		return errors.E(errors.Invalid, fmt.Sprintf("%s holds %s, not %s", s.path, table, s.schema.Table))
	}

	cols, err := s.columns(ctx, s.schema.Table)
	if err != nil {
		return err
	}
	if len(cols) > 0 && !s.schema.matches(cols) {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: table %s has columns %v, want %v",
			s.path, s.schema.Table, cols, s.schema.Columns))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "initialize counts store", s.path)
	}
	stmts = append(s.schema.createSQL(),
		"INSERT OR IGNORE INTO file_names (idx, name) VALUES (0, '"+Sentinel+"')")
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback() // nolint: errcheck
			return errors.E(err, "initialize counts store", s.path)
		}
	}
	info := [][2]string{
		{"title", "bam liquidator genome read counts - version " + Version},
		{"version", Version},
		{"counts_table", s.schema.Table},
	}
	for _, kv := range info {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO store_info (name, value) VALUES (?, ?)", kv[0], kv[1]); err != nil {
			tx.Rollback() // nolint: errcheck
			return errors.E(err, "initialize counts store", s.path)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.E(err, "initialize counts store", s.path)
	}
	return nil
}

// columns returns the layout of the named table, or nil if it does not exist.
func (s *Store) columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errors.E(err, "describe table", table)
	}
	defer rows.Close() // nolint: errcheck
	var cols []Column
	for rows.Next() {
		var (
			cid     int
			c       Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, errors.E(err, "describe table", table)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Path returns the location of the store.
func (s *Store) Path() string { return s.path }

// Schema returns the counts table layout the store was opened with.
func (s *Store) Schema() Schema { return s.schema }

// DB exposes the underlying database for whole-table passes such as
// normalization.
func (s *Store) DB() *sql.DB { return s.db }

// Close checkpoints the write-ahead log and releases the store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Error.Printf("countstore: checkpoint %s: %v", s.path, err)
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RegisteredNames returns the names of all registered files. The sentinel is
// not included.
func (s *Store) RegisteredNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM file_names WHERE idx > 0")
	if err != nil {
		return nil, errors.E(err, "list file names", s.path)
	}
	defer rows.Close() // nolint: errcheck
	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.E(err, "list file names", s.path)
		}
		names[name] = true
	}
	return names, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func nextKey(ctx context.Context, q queryer) (uint32, error) {
	var next int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(key), 0) + 1 FROM files").Scan(&next); err != nil {
		return 0, err
	}
	return uint32(next), nil
}

// NextKey returns the key the next Register call will allocate: one more than
// the largest key in the registry, or 1 if it is empty. Key 0 is never
// allocated.
func (s *Store) NextKey(ctx context.Context) (uint32, error) {
	key, err := nextKey(ctx, s.db)
	if err != nil {
		return 0, errors.E(err, "allocate file key", s.path)
	}
	return key, nil
}

// Register appends a registry row for the named file and returns its key.
// length is the file's total mapped read count.
func (s *Store) Register(ctx context.Context, name string, length uint64) (key uint32, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.E(err, "register", name)
	}
	defer func() {
		if err != nil {
			tx.Rollback() // nolint: errcheck
		}
	}()
	if key, err = nextKey(ctx, tx); err != nil {
		return 0, errors.E(err, "allocate file key for", name)
	}
	var nNames int64
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_names").Scan(&nNames); err != nil {
		return 0, errors.E(err, "register", name)
	}
	if _, err = tx.ExecContext(ctx, "INSERT INTO files (key, length) VALUES (?, ?)", int64(key), int64(length)); err != nil {
		return 0, errors.E(err, "register", name)
	}
	if _, err = tx.ExecContext(ctx, "INSERT INTO file_names (idx, name) VALUES (?, ?)", nNames, name); err != nil {
		return 0, errors.E(err, "register", name)
	}
	if err = tx.Commit(); err != nil {
		return 0, errors.E(err, "register", name)
	}
	return key, nil
}

// CheckConsistency verifies that the name list has exactly one entry per
// registry row plus the sentinel, and that keys are dense. A violation
// indicates concurrent or out-of-order writers and is reported as
// errors.Integrity.
func (s *Store) CheckConsistency(ctx context.Context) error {
	var nNames, nFiles int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM file_names").Scan(&nNames); err != nil {
		return errors.E(err, "count file names", s.path)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&nFiles); err != nil {
		return errors.E(err, "count files", s.path)
	}
	next, err := s.NextKey(ctx)
	if err != nil {
		return err
	}
	if nNames-1 != nFiles || nNames != int64(next) {
		return errors.E(errors.Integrity, fmt.Sprintf(
			"%s: registry out of sync: %d names (with sentinel), %d files, next key %d",
			s.path, nNames, nFiles, next))
	}
	return nil
}

// Files returns the registry in key order.
func (s *Store) Files(ctx context.Context) ([]FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.key, f.length, COALESCE(n.name, '')
		FROM files f LEFT JOIN file_names n ON n.idx = f.key
		ORDER BY f.key`)
	if err != nil {
		return nil, errors.E(err, "list files", s.path)
	}
	defer rows.Close() // nolint: errcheck
	var files []FileEntry
	for rows.Next() {
		var (
			key, length int64
			f           FileEntry
		)
		if err := rows.Scan(&key, &length, &f.Name); err != nil {
			return nil, errors.E(err, "list files", s.path)
		}
		f.Key, f.Length = uint32(key), uint64(length)
		files = append(files, f)
	}
	return files, rows.Err()
}
