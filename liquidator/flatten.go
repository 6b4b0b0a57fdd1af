// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/liquidator/countstore"
)

// Flatten writes every table of s to <outDir>/<table>.tab: a header line of
// column names followed by one tab-separated line per row. The files table
// is written joined with the registered names.
func Flatten(ctx context.Context, s *countstore.Store, outDir string) error {
	tables, err := s.Tables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := flattenTable(ctx, s, table, filepath.Join(outDir, table+".tab")); err != nil {
			return err
		}
	}
	log.Printf("flattened %d table(s) of %s into %s", len(tables), s.Path(), outDir)
	return nil
}

func flattenTable(ctx context.Context, s *countstore.Store, table, path string) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	if table == "files" {
		files, err := s.Files(ctx)
		if err != nil {
			return err
		}
		w.WriteString("key\tlength\tname")
		if err := w.EndLine(); err != nil {
			return err
		}
		for _, f := range files {
			w.WriteString(strconv.FormatUint(uint64(f.Key), 10))
			w.WriteString(strconv.FormatUint(f.Length, 10))
			w.WriteString(f.Name)
			if err := w.EndLine(); err != nil {
				return err
			}
		}
		return w.Flush()
	}
	header := false
	err = s.ScanTable(ctx, table, func(cols, vals []string) error {
		if !header {
			w.WriteString(strings.Join(cols, "\t"))
			if err := w.EndLine(); err != nil {
				return err
			}
			header = true
		}
		for _, v := range vals {
			w.WriteString(v)
		}
		return w.EndLine()
	})
	if err != nil {
		return err
	}
	if !header {
		// Empty table; the header still names the columns.
		cols, err := tableColumns(ctx, s, table)
		if err != nil {
			return err
		}
		w.WriteString(strings.Join(cols, "\t"))
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

func tableColumns(ctx context.Context, s *countstore.Store, table string) ([]string, error) {
	rows, err := s.DB().QueryContext(ctx, "SELECT * FROM "+table+" LIMIT 0")
	if err != nil {
		return nil, errors.E(err, "columns of", table)
	}
	defer rows.Close() // nolint: errcheck
	return rows.Columns()
}

// Flatten writes the tables of the run's store to the output directory.
func (l *Liquidator) Flatten(ctx context.Context) (err error) {
	startTime := time.Now()
	s, err := l.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err = Flatten(ctx, s, l.opts.OutputDir); err != nil {
		return err
	}
	l.timings.Record("flattening", time.Since(startTime))
	return nil
}
