// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"time"

	biointerval "github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/liquidator/interval"
)

// span returns the 0-based half-open reference span of rec, extended by ext
// bases in the read direction and clipped to [0, length).
func span(rec *sam.Record, ext, length int) (start, end int) {
	start, end = rec.Pos, rec.End()
	if rec.Flags&sam.Reverse != 0 {
		start -= ext
	} else {
		end += ext
	}
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	return start, end
}

func strandMatches(sense byte, rec *sam.Record) bool {
	switch sense {
	case Forward:
		return rec.Flags&sam.Reverse == 0
	case Reverse:
		return rec.Flags&sam.Reverse != 0
	}
	return true
}

// openStore opens the store for appending and checks that key was registered
// before any row references it.
func openStore(ctx context.Context, path string, schema countstore.Schema, key uint32) (*countstore.Store, error) {
	s, err := countstore.Open(ctx, path, schema, countstore.Append)
	if err != nil {
		return nil, err
	}
	files, err := s.Files(ctx)
	if err != nil {
		s.Close() // nolint: errcheck
		return nil, err
	}
	for _, f := range files {
		if f.Key == key {
			return s, nil
		}
	}
	s.Close() // nolint: errcheck
	return nil, errors.E(errors.Precondition, fmt.Sprintf("%s: file key %d is not registered", path, key))
}

// chromBins is the bin counts of one chromosome. It is only updated by the
// shard reading that chromosome.
type chromBins struct {
	length int
	counts []uint64
	seen   bool
}

// CountBins counts the reads of a.BAMPath into a.BinSize wide bins along each
// chromosome of a.Chroms and appends one row per bin, zeros included, to the
// store. A read is counted in every bin its extended span overlaps. Reads on
// chromosomes not listed in a.Chroms are ignored.
func CountBins(ctx context.Context, a BinArgs) (err error) {
	startTime := time.Now()
	warn, err := openWarnLog(a.LogPath, a.Warnings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := warn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	bins := make(map[string]*chromBins, len(a.Chroms))
	for _, c := range a.Chroms {
		if _, ok := bins[c.Name]; ok {
			warn.Printf("%s: chromosome %s listed twice, counting it once", a.BAMPath, c.Name)
			continue
		}
		bins[c.Name] = &chromBins{
			length: c.Length,
			counts: make([]uint64, (c.Length+a.BinSize-1)/a.BinSize),
		}
	}
	nReads, err := scanBAM(ctx, a.BAMPath, a.Threads, func(ref *sam.Reference) readFn {
		cb := bins[ref.Name()]
		if cb == nil {
			return nil
		}
		return func(rec *sam.Record) error {
			if !strandMatches(a.Sense, rec) {
				return nil
			}
			cb.seen = true
			start, end := span(rec, a.Extension, cb.length)
			if end <= start {
				warn.Printf("%s: read %s at %s:%d lies past the chromosome end %d",
					a.BAMPath, rec.Name, rec.Ref.Name(), rec.Pos, cb.length)
				return nil
			}
			for b := start / a.BinSize; b <= (end-1)/a.BinSize; b++ {
				cb.counts[b]++
			}
			return nil
		}
	})
	if err != nil {
		return err
	}

	var rows []countstore.BinCountRow
	done := make(map[string]bool, len(bins))
	for _, c := range a.Chroms {
		if done[c.Name] {
			continue
		}
		done[c.Name] = true
		if !bins[c.Name].seen {
			log.Debug.Printf("%s: no counted reads on %s", a.BAMPath, c.Name)
		}
		for i, n := range bins[c.Name].counts {
			rows = append(rows, countstore.BinCountRow{
				BinNumber:  uint32(i),
				CellType:   a.CellType,
				Chromosome: c.Name,
				Count:      n,
				FileKey:    a.FileKey,
			})
		}
	}
	s, err := openStore(ctx, a.StorePath, countstore.BinSchema, a.FileKey)
	if err != nil {
		return err
	}
	if err := s.AppendBinCounts(ctx, rows); err != nil {
		s.Close() // nolint: errcheck
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	log.Printf("%s: %d mapped reads into %d bins over %d chromosome(s) in %v (%d warning(s))",
		a.BAMPath, nReads, len(rows), len(done), time.Since(startTime), warn.n)
	return nil
}

// regionSpan is a region in a per-chromosome interval tree. The span is
// 0-based and half-open.
type regionSpan struct {
	id         uintptr
	start, end int
}

func (r regionSpan) Overlap(b biointerval.IntRange) bool { return r.end > b.Start && r.start < b.End }
func (r regionSpan) ID() uintptr                        { return r.id }
func (r regionSpan) Range() biointerval.IntRange {
	return biointerval.IntRange{Start: r.start, End: r.end}
}

// readSpan queries a region tree.
type readSpan struct{ start, end int }

func (q readSpan) Overlap(b biointerval.IntRange) bool { return b.End > q.start && b.Start < q.end }

// CountRegions counts the reads of a.BAMPath overlapping each region of
// a.RegionsPath and appends one row per region, in file order, to the store.
func CountRegions(ctx context.Context, a RegionArgs) (err error) {
	startTime := time.Now()
	warn, err := openWarnLog(a.LogPath, a.Warnings)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := warn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	regions, err := interval.ReadRegions(ctx, a.RegionsPath, a.Format)
	if err != nil {
		return err
	}
	lengths := make(map[string]int, len(a.Chroms))
	for _, c := range a.Chroms {
		lengths[c.Name] = c.Length
	}
	trees := make(map[string]*biointerval.IntTree)
	missing := make(map[string]bool)
	for i, r := range regions {
		if _, ok := lengths[r.Chrom]; !ok && !missing[r.Chrom] {
			missing[r.Chrom] = true
			warn.Printf("%s: region %s is on %s, which %s does not contain", a.RegionsPath, r.Name, r.Chrom, a.BAMPath)
		}
		if r.End() <= r.Start0() {
			continue
		}
		tree := trees[r.Chrom]
		if tree == nil {
			tree = &biointerval.IntTree{}
			trees[r.Chrom] = tree
		}
		if err := tree.Insert(regionSpan{id: uintptr(i), start: int(r.Start0()), end: int(r.End())}, true); err != nil {
			return errors.E(err, fmt.Sprintf("%s: region %s", a.RegionsPath, r.Name))
		}
	}
	for _, tree := range trees {
		tree.AdjustRanges()
	}

	// Each region lies on one chromosome, so the shards update disjoint
	// elements of counts.
	counts := make([]uint64, len(regions))
	nReads, err := scanBAM(ctx, a.BAMPath, a.Threads, func(ref *sam.Reference) readFn {
		tree := trees[ref.Name()]
		if tree == nil {
			return nil
		}
		length, ok := lengths[ref.Name()]
		if !ok {
			length = ref.Len()
		}
		return func(rec *sam.Record) error {
			start, end := span(rec, a.Extension, length)
			if end <= start {
				return nil
			}
			for _, hit := range tree.Get(readSpan{start: start, end: end}) {
				i := hit.ID()
				sense := a.Sense
				if sense == PerRegion {
					sense = regions[i].Strand
				}
				if strandMatches(sense, rec) {
					counts[i]++
				}
			}
			return nil
		}
	})
	if err != nil {
		return err
	}

	rows := make([]countstore.RegionCountRow, len(regions))
	for i, r := range regions {
		rows[i] = countstore.RegionCountRow{
			FileKey:    a.FileKey,
			Chromosome: r.Chrom,
			RegionName: r.Name,
			Start:      uint64(r.Start),
			Stop:       uint64(r.Stop),
			Strand:     r.Strand,
			Count:      counts[i],
		}
	}
	s, err := openStore(ctx, a.StorePath, countstore.RegionSchema, a.FileKey)
	if err != nil {
		return err
	}
	if err := s.AppendRegionCounts(ctx, rows); err != nil {
		s.Close() // nolint: errcheck
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	log.Printf("%s: %d mapped reads against %d region(s) in %v (%d warning(s))",
		a.BAMPath, nReads, len(regions), time.Since(startTime), warn.n)
	return nil
}
