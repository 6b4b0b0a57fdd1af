// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package normalize

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/liquidator/countstore"
)

// Opts configures Bins.
type Opts struct {
	// OutputDir receives the plots/ directory.
	OutputDir string
	// BinSize is the bin width used when the counts were produced.
	BinSize int
	// SkipPlot disables writing plot tables.
	SkipPlot bool
}

var binTables = []string{
	"DROP TABLE IF EXISTS normalized_counts",
	`CREATE TABLE normalized_counts (
		bin_number INTEGER NOT NULL,
		cell_type  TEXT NOT NULL,
		chromosome TEXT NOT NULL,
		count      REAL NOT NULL,
		file_key   INTEGER NOT NULL)`,
	// Each file's bins on a chromosome sum to 1.
	`INSERT INTO normalized_counts
		SELECT b.bin_number, b.cell_type, b.chromosome,
			CASE WHEN t.total > 0 THEN CAST(b.count AS REAL) / t.total ELSE 0 END,
			b.file_key
		FROM bin_counts b
		JOIN (SELECT file_key, chromosome, SUM(count) AS total
			FROM bin_counts GROUP BY file_key, chromosome) t
		ON b.file_key = t.file_key AND b.chromosome = t.chromosome
		ORDER BY b.rowid`,
	// File key 0 holds the mean over all files of a cell type.
	`INSERT INTO normalized_counts
		SELECT bin_number, cell_type, chromosome, AVG(count), 0
		FROM normalized_counts WHERE file_key > 0
		GROUP BY cell_type, chromosome, bin_number
		ORDER BY cell_type, chromosome, bin_number`,
	"DROP TABLE IF EXISTS summary",
	`CREATE TABLE summary (
		cell_type      TEXT NOT NULL,
		chromosome     TEXT NOT NULL,
		bins           INTEGER NOT NULL,
		total_count    INTEGER NOT NULL,
		max_bin_number INTEGER NOT NULL,
		max_normalized REAL NOT NULL)`,
	// SQLite takes bare columns of a MAX() aggregate from the maximal row.
	`INSERT INTO summary
		SELECT c.cell_type, c.chromosome, c.bins, c.total, m.bin_number, m.best
		FROM (SELECT cell_type, chromosome, COUNT(DISTINCT bin_number) AS bins, SUM(count) AS total
			FROM bin_counts GROUP BY cell_type, chromosome) c
		JOIN (SELECT cell_type, chromosome, bin_number, MAX(count) AS best
			FROM normalized_counts WHERE file_key = 0 GROUP BY cell_type, chromosome) m
		ON c.cell_type = m.cell_type AND c.chromosome = m.chromosome
		ORDER BY c.cell_type, c.chromosome`,
}

// Bins rebuilds the normalized_counts and summary tables from bin_counts and,
// unless opts.SkipPlot is set, writes one plot table per cell type to
// opts.OutputDir/plots.
func Bins(ctx context.Context, s *countstore.Store, opts Opts) (err error) {
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "normalize bins")
	}
	for _, stmt := range binTables {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback() // nolint: errcheck
			return errors.E(err, "normalize bins")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.E(err, "normalize bins")
	}
	if opts.SkipPlot {
		log.Printf("skipping plots")
		return nil
	}
	return writePlots(ctx, s.DB(), opts)
}

// writePlots writes <OutputDir>/plots/<cell type>.tsv holding the cell type's
// mean normalized count for every bin.
func writePlots(ctx context.Context, db *sql.DB, opts Opts) error {
	dir := filepath.Join(opts.OutputDir, "plots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.E(err, "create", dir)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT cell_type, chromosome, bin_number, count FROM normalized_counts
		WHERE file_key = 0 ORDER BY cell_type, chromosome, bin_number`)
	if err != nil {
		return errors.E(err, "read normalized_counts")
	}
	defer rows.Close() // nolint: errcheck

	var (
		cur     string
		out     file.File
		w       *tsv.Writer
		nPlots  int
		closeFn = func() error {
			if out == nil {
				return nil
			}
			if err := w.Flush(); err != nil {
				return err
			}
			return out.Close(ctx)
		}
	)
	for rows.Next() {
		var (
			cellType, chrom string
			bin             int64
			value           float64
		)
		if err := rows.Scan(&cellType, &chrom, &bin, &value); err != nil {
			return errors.E(err, "read normalized_counts")
		}
		if out == nil || cellType != cur {
			if err := closeFn(); err != nil {
				return err
			}
			path := filepath.Join(dir, cellType+".tsv")
			if out, err = file.Create(ctx, path); err != nil {
				return errors.E(err, "create plot table", path)
			}
			w = tsv.NewWriter(out.Writer(ctx))
			w.WriteString("chromosome\tbin_number\tstart\tnormalized_count")
			if err := w.EndLine(); err != nil {
				return err
			}
			cur = cellType
			nPlots++
		}
		w.WriteString(chrom)
		w.WriteString(strconv.FormatInt(bin, 10))
		w.WriteString(strconv.FormatInt(bin*int64(opts.BinSize), 10))
		w.WriteString(strconv.FormatFloat(value, 'g', -1, 64))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.E(err, "read normalized_counts")
	}
	if err := closeFn(); err != nil {
		return err
	}
	log.Printf("wrote %d plot table(s) to %s", nPlots, dir)
	return nil
}
