// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"
	"fmt"
	"io"
	"math"
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

// WriteMatrix writes the normalized region counts of s as a matrix with one
// row per region and one column per registered file, in key order:
//
//   GENE_ID  locusLine              bin_1_<file 1>  bin_1_<file 2> ...
//   <name>   <chrom>(<strand>):<start>-<stop>  <value>  <value> ...
//
// Rows of different files are paired by position, so every file must have
// the same number of region_counts rows, written in the same region order.
// A store violating that is an errors.Precondition error. Values are rounded
// to 4 decimal places.
func WriteMatrix(ctx context.Context, w io.Writer, s *countstore.Store) error {
	files, err := s.Files(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.E(errors.Precondition, "matrix: no registered files")
	}
	nRows, err := s.CountRows(ctx, countstore.RegionSchema.Table)
	if err != nil {
		return err
	}
	if nRows%len(files) != 0 {
		return errors.E(errors.Precondition, fmt.Sprintf(
			"matrix: %d region rows cannot be split evenly among %d files", nRows, len(files)))
	}
	nRegions := nRows / len(files)

	// All but the last file are buffered; the last is streamed.
	last := len(files) - 1
	grid := make([][]float64, nRegions)
	for i := range grid {
		grid[i] = make([]float64, last)
	}
	for j, f := range files[:last] {
		i := 0
		err := s.ScanRegionCounts(ctx, f.Key, func(r countstore.RegionCountRow) error {
			if i >= nRegions {
				return errMatrixRows(f, nRegions)
			}
			grid[i][j] = r.NormalizedCount
			i++
			return nil
		})
		if err != nil {
			return err
		}
		if i != nRegions {
			return errMatrixRows(f, nRegions)
		}
	}

	tw := tsv.NewWriter(w)
	tw.WriteString("GENE_ID")
	tw.WriteString("locusLine")
	for _, f := range files {
		tw.WriteString("bin_1_" + f.Name)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	i := 0
	err = s.ScanRegionCounts(ctx, files[last].Key, func(r countstore.RegionCountRow) error {
		if i >= nRegions {
			return errMatrixRows(files[last], nRegions)
		}
		tw.WriteString(r.RegionName)
		tw.WriteString(fmt.Sprintf("%s(%c):%d-%d", r.Chromosome, r.Strand, r.Start, r.Stop))
		for _, v := range grid[i] {
			tw.WriteString(formatValue(v))
		}
		tw.WriteString(formatValue(r.NormalizedCount))
		i++
		return tw.EndLine()
	})
	if err != nil {
		return err
	}
	if i != nRegions {
		return errMatrixRows(files[last], nRegions)
	}
	return tw.Flush()
}

func errMatrixRows(f countstore.FileEntry, nRegions int) error {
	return errors.E(errors.Precondition, fmt.Sprintf(
		"matrix: %s does not have exactly %d region rows", f.Name, nRegions))
}

// formatValue rounds v half away from zero to 4 decimal places and prints it
// in its shortest form, keeping ".0" on integral values.
func formatValue(v float64) string {
	r := math.Round(v*1e4) / 1e4
	s := strconv.FormatFloat(r, 'f', -1, 64)
	if !strings.ContainsAny(s, ".IN") {
		s += ".0"
	}
	return s
}

// WriteMatrixFile writes the matrix of the run's store to matrix.txt in the
// output directory.
func (l *Liquidator) WriteMatrixFile(ctx context.Context) (err error) {
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
	path := filepath.Join(l.opts.OutputDir, "matrix.txt")
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	if err = WriteMatrix(ctx, out.Writer(ctx), s); err != nil {
		out.Close(ctx) // nolint: errcheck
		return err
	}
	if err = out.Close(ctx); err != nil {
		return errors.E(err, "close", path)
	}
	l.timings.Record("matrix", time.Since(startTime))
	log.Printf("wrote %s", path)
	return nil
}
