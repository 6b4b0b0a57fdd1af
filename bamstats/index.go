// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamstats

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
)

// IndexPath returns the path of the .bai index of the BAM file at bamPath.
func IndexPath(bamPath string) string { return bamPath + ".bai" }

// ReadIndex reads the .bai index of the BAM file at bamPath. It returns a nil
// index and no error if the index does not exist, or if it lists no
// references.
func ReadIndex(ctx context.Context, bamPath string) (*bam.Index, error) {
	path := IndexPath(bamPath)
	in, err := file.Open(ctx, path)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return nil, nil
		}
		return nil, errors.E(err, "open", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	index, err := bam.ReadIndex(in.Reader(ctx))
	if err != nil {
		return nil, errors.E(err, "read index", path)
	}
	return index, nil
}

// IndexMapped returns the total mapped read count recorded in index. ok is
// false if no reference carries the metadata pseudo-bin, in which case the
// count is unknown rather than zero.
func IndexMapped(index *bam.Index) (n uint64, ok bool) {
	if index == nil {
		return 0, false
	}
	for id := 0; id < index.NumRefs(); id++ {
		if stats, valid := index.ReferenceStats(id); valid {
			ok = true
			n += stats.Mapped
		}
	}
	return n, ok
}
