// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package normalize

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/liquidator/interval"
)

// Regions sets normalized_count of every region_counts row to the region's
// read rate: count * 1e6 / total mapped reads of the file / region width.
// Coordinates are stored as written in a region file of the given format, so
// a GFF region [start, stop] is stop - start + 1 bases wide. Rows of empty
// regions and of files with no mapped reads get 0.
func Regions(ctx context.Context, s *countstore.Store, format interval.Format) (err error) {
	var closed int64
	if format == interval.GFF {
		closed = 1
	}
	files, err := s.Files(ctx)
	if err != nil {
		return err
	}
	tx, err := s.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "normalize regions")
	}
	defer func() {
		if err != nil {
			tx.Rollback() // nolint: errcheck
		}
	}()
	if _, err = tx.ExecContext(ctx, "UPDATE region_counts SET normalized_count = 0"); err != nil {
		return errors.E(err, "normalize regions")
	}
	stmt, err := tx.PrepareContext(ctx, `
		UPDATE region_counts SET normalized_count = CAST(count AS REAL) * ?1 / (stop - start + ?3)
		WHERE file_key = ?2 AND stop + ?3 > start`)
	if err != nil {
		return errors.E(err, "normalize regions")
	}
	defer stmt.Close() // nolint: errcheck
	for _, f := range files {
		if f.Length == 0 {
			log.Printf("%s: no mapped reads, leaving normalized counts at 0", f.Name)
			continue
		}
		if _, err = stmt.ExecContext(ctx, 1e6/float64(f.Length), int64(f.Key), closed); err != nil {
			return errors.E(err, "normalize regions of", f.Name)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.E(err, "normalize regions")
	}
	return nil
}
