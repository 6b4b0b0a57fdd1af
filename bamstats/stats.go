// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bamstats

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// Chrom is a reference sequence listed in a BAM header.
type Chrom struct {
	Name   string
	Length int
}

// Chroms returns the reference sequences of header in header order.
func Chroms(header *sam.Header) []Chrom {
	refs := header.Refs()
	chroms := make([]Chrom, len(refs))
	for i, ref := range refs {
		chroms[i] = Chrom{Name: ref.Name(), Length: ref.Len()}
	}
	return chroms
}

// TotalMappedReads returns the number of mapped reads in the BAM file at path,
// and the reference sequences of its header. The count is taken from the
// path+".bai" index when it is readable and carries per-reference metadata;
// otherwise every record is read.
func TotalMappedReads(ctx context.Context, path string) (total uint64, chroms []Chrom, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return 0, nil, errors.E(err, "open", path)
	}
	defer func() {
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return 0, nil, errors.E(err, "read BAM header", path)
	}
	defer reader.Close() // nolint: errcheck
	chroms = Chroms(reader.Header())

	if n, ok := indexMapped(ctx, path); ok {
		return n, chroms, nil
	}
	log.Debug.Printf("%s: no usable index, counting mapped reads by scanning", path)
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, errors.E(err, "read", path)
		}
		if rec.Flags&sam.Unmapped == 0 {
			total++
		}
	}
	return total, chroms, nil
}

func indexMapped(ctx context.Context, path string) (uint64, bool) {
	index, err := ReadIndex(ctx, path)
	if err != nil {
		log.Error.Printf("%v", err)
		return 0, false
	}
	return IndexMapped(index)
}
