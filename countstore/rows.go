// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package countstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grailbio/base/errors"
)

// BinCountRow is one row of bin_counts.
type BinCountRow struct {
	BinNumber  uint32
	CellType   string
	Chromosome string
	Count      uint64
	FileKey    uint32
}

// RegionCountRow is one row of region_counts.
type RegionCountRow struct {
	FileKey    uint32
	Chromosome string
	RegionName string
	Start      uint64
	Stop       uint64
	// Strand is '+', '-' or '.'.
	Strand          byte
	Count           uint64
	NormalizedCount float64
}

// AppendBinCounts appends rows to bin_counts in a single transaction.
func (s *Store) AppendBinCounts(ctx context.Context, rows []BinCountRow) error {
	return s.appendRows(ctx, BinSchema, len(rows), func(stmt *sql.Stmt, i int) error {
		r := rows[i]
		_, err := stmt.ExecContext(ctx, int64(r.BinNumber), truncate(r.CellType, CellTypeWidth),
			truncate(r.Chromosome, ChromosomeWidth), int64(r.Count), int64(r.FileKey))
		return err
	})
}

// AppendRegionCounts appends rows to region_counts in a single transaction.
func (s *Store) AppendRegionCounts(ctx context.Context, rows []RegionCountRow) error {
	return s.appendRows(ctx, RegionSchema, len(rows), func(stmt *sql.Stmt, i int) error {
		r := rows[i]
		strand := r.Strand
		if strand == 0 {
			strand = '.'
		}
		_, err := stmt.ExecContext(ctx, int64(r.FileKey), truncate(r.Chromosome, ChromosomeWidth),
			truncate(r.RegionName, RegionNameWidth), int64(r.Start), int64(r.Stop),
			string(strand), int64(r.Count), r.NormalizedCount)
		return err
	})
}

func (s *Store) appendRows(ctx context.Context, schema Schema, n int, exec func(*sql.Stmt, int) error) (err error) {
	if s.schema.Table != schema.Table {
		return errors.E(errors.Invalid, fmt.Sprintf("%s: cannot append %s rows to a %s store",
			s.path, schema.Table, s.schema.Table))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "append", schema.Table)
	}
	defer func() {
		if err != nil {
			tx.Rollback() // nolint: errcheck
		}
	}()
	placeholders := ""
	names := ""
	for i, c := range schema.Columns {
		if i > 0 {
			placeholders += ", "
			names += ", "
		}
		placeholders += "?"
		names += c.Name
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Table, names, placeholders))
	if err != nil {
		return errors.E(err, "append", schema.Table)
	}
	defer stmt.Close() // nolint: errcheck
	for i := 0; i < n; i++ {
		if err = exec(stmt, i); err != nil {
			return errors.E(err, "append", schema.Table)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.E(err, "append", schema.Table)
	}
	return nil
}

// ScanBinCounts calls fn for every row of bin_counts in insertion order.
func (s *Store) ScanBinCounts(ctx context.Context, fn func(BinCountRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bin_number, cell_type, chromosome, count, file_key
		FROM bin_counts ORDER BY rowid`)
	if err != nil {
		return errors.E(err, "scan bin_counts", s.path)
	}
	defer rows.Close() // nolint: errcheck
	for rows.Next() {
		var (
			bin, count, key int64
			r               BinCountRow
		)
		if err := rows.Scan(&bin, &r.CellType, &r.Chromosome, &count, &key); err != nil {
			return errors.E(err, "scan bin_counts", s.path)
		}
		r.BinNumber, r.Count, r.FileKey = uint32(bin), uint64(count), uint32(key)
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ScanRegionCounts calls fn for every region_counts row of the given file, in
// insertion order. Engines write a file's regions in region-file order, so
// the n'th row of every file describes the same region when all files were
// counted against the same region file.
func (s *Store) ScanRegionCounts(ctx context.Context, fileKey uint32, fn func(RegionCountRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_key, chromosome, region_name, start, stop, strand, count, normalized_count
		FROM region_counts WHERE file_key = ? ORDER BY rowid`, int64(fileKey))
	if err != nil {
		return errors.E(err, "scan region_counts", s.path)
	}
	defer rows.Close() // nolint: errcheck
	for rows.Next() {
		var (
			key, start, stop, count int64
			strand                  string
			r                       RegionCountRow
		)
		if err := rows.Scan(&key, &r.Chromosome, &r.RegionName, &start, &stop, &strand, &count, &r.NormalizedCount); err != nil {
			return errors.E(err, "scan region_counts", s.path)
		}
		r.FileKey, r.Start, r.Stop, r.Count = uint32(key), uint64(start), uint64(stop), uint64(count)
		r.Strand = '.'
		if len(strand) > 0 {
			r.Strand = strand[0]
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Tables returns the names of all tables in the store, in creation order.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid`)
	if err != nil {
		return nil, errors.E(err, "list tables", s.path)
	}
	defer rows.Close() // nolint: errcheck
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.E(err, "list tables", s.path)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *Store) checkTable(ctx context.Context, table string) error {
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t == table {
			return nil
		}
	}
	return errors.E(errors.NotExist, fmt.Sprintf("%s: no table %s", s.path, table))
}

// CountRows returns the number of rows in the named table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, errors.E(err, "count rows of", table)
	}
	return n, nil
}

// ScanTable calls fn with the column names and the textual value of each
// column for every row of the named table, in insertion order.
func (s *Store) ScanTable(ctx context.Context, table string, fn func(cols, vals []string) error) error {
	if err := s.checkTable(ctx, table); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", table))
	if err != nil {
		return errors.E(err, "scan", table)
	}
	defer rows.Close() // nolint: errcheck
	cols, err := rows.Columns()
	if err != nil {
		return errors.E(err, "scan", table)
	}
	raw := make([]sql.NullString, len(cols))
	dest := make([]interface{}, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	vals := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return errors.E(err, "scan", table)
		}
		for i, v := range raw {
			vals[i] = v.String
		}
		if err := fn(cols, vals); err != nil {
			return err
		}
	}
	return rows.Err()
}
