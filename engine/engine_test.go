// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/liquidator/bamstats"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/liquidator/interval"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _   = sam.NewReference("chr1", "", "", 250, nil, nil)
	chr2, _   = sam.NewReference("chr2", "", "", 100, nil, nil)
	header, _ = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
)

func newRecord(name string, ref *sam.Reference, pos int, flags sam.Flags) *sam.Record {
	r := &sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MatePos: -1,
		Flags:   flags,
		Seq:     sam.NewSeq([]byte("ACGTACGTAC")),
		Qual:    []byte("IIIIIIIIII"),
	}
	if ref != nil {
		r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)}
	}
	return r
}

func writeBAM(t *testing.T, path string, recs []*sam.Record) {
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(f, header, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// indexBAM writes a .bai for the coordinate-sorted BAM file at path.
func indexBAM(t *testing.T, path string) {
	in, err := os.Open(path)
	require.NoError(t, err)
	r, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	var idx bam.Index
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NoError(t, idx.Add(rec, r.LastChunk()))
	}
	require.NoError(t, r.Close())
	require.NoError(t, in.Close())
	out, err := os.Create(bamstats.IndexPath(path))
	require.NoError(t, err)
	require.NoError(t, bam.WriteIndex(out, &idx))
	require.NoError(t, out.Close())
}

// newStore creates a store at dir/counts.db with n registered files.
func newStore(t *testing.T, dir string, schema countstore.Schema, n int) string {
	ctx := context.Background()
	path := filepath.Join(dir, "counts.db")
	s, err := countstore.Open(ctx, path, schema, countstore.CreateNew)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := s.Register(ctx, "sample.bam", 1000)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	return path
}

func TestArgsRoundTrip(t *testing.T) {
	chroms := []bamstats.Chrom{{Name: "chr1", Length: 250}, {Name: "chr2", Length: 100}}
	bins := BinArgs{
		Threads:   4,
		CellType:  "mm1s",
		BinSize:   100,
		Extension: 200,
		Sense:     Unstranded,
		BAMPath:   "/data/mm1s/a.bam",
		FileKey:   3,
		StorePath: "/out/counts.db",
		LogPath:   "/out/log.txt",
		Warnings:  true,
		Chroms:    chroms,
	}
	args := bins.Args()
	expect.EQ(t, args, []string{"4", "mm1s", "100", "200", ".", "/data/mm1s/a.bam", "3",
		"/out/counts.db", "/out/log.txt", "1", "chr1", "250", "chr2", "100"})
	got, err := ParseBinArgs(args)
	require.NoError(t, err)
	expect.EQ(t, got, bins)

	regions := RegionArgs{
		Threads:     1,
		RegionsPath: "/data/peaks.gff",
		Format:      interval.GFF,
		BAMPath:     "/data/a.bam",
		FileKey:     1,
		StorePath:   "/out/counts.db",
		LogPath:     "/out/log.txt",
		Sense:       PerRegion,
		Chroms:      chroms,
	}
	args = regions.Args()
	expect.EQ(t, args, []string{"1", "/data/peaks.gff", "gff", "0", "/data/a.bam", "1",
		"/out/counts.db", "/out/log.txt", "0", "_", "chr1", "250", "chr2", "100"})
	gotRegions, err := ParseRegionArgs(args)
	require.NoError(t, err)
	expect.EQ(t, gotRegions, regions)
}

func TestParseArgsErrors(t *testing.T) {
	valid := []string{"1", "-", "100", "0", ".", "a.bam", "1", "counts.db", "log.txt", "0"}
	with := func(i int, v string) []string {
		args := append([]string(nil), valid...)
		args[i] = v
		return args
	}
	for _, args := range [][]string{
		valid[:9],
		with(0, "0"),
		with(2, "x"),
		with(3, "-1"),
		with(4, "_"),
		with(6, "0"),
		with(9, "yes"),
		append(append([]string(nil), valid...), "chr1"),
		append(append([]string(nil), valid...), "chr1", "long"),
	} {
		_, err := ParseBinArgs(args)
		require.Error(t, err, strings.Join(args, " "))
		expect.True(t, errors.Is(errors.Invalid, err), err)
	}
	_, err := ParseBinArgs(valid)
	require.NoError(t, err)

	_, err = ParseRegionArgs([]string{"1", "r.txt", "txt", "0", "a.bam", "1", "counts.db", "log.txt", "0", "_"})
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Invalid, err), err)
}

func TestCountBins(t *testing.T) {
	ctx := context.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "engine")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "sample.bam")
	writeBAM(t, bamPath, []*sam.Record{
		newRecord("r1", chr1, 10, 0),
		newRecord("r2", chr1, 95, 0),
		newRecord("r3", chr1, 200, sam.Reverse),
		newRecord("r4", chr2, 0, 0),
		newRecord("r5", nil, -1, sam.Unmapped),
	})
	storePath := newStore(t, tempDir, countstore.BinSchema, 2)
	logPath := filepath.Join(tempDir, "log.txt")

	args := BinArgs{
		Threads:   1,
		CellType:  "mm1s",
		BinSize:   100,
		Sense:     Unstranded,
		BAMPath:   bamPath,
		FileKey:   1,
		StorePath: storePath,
		LogPath:   logPath,
		// chr2 is left out, as a blacklisted chromosome would be.
		Chroms: []bamstats.Chrom{{Name: "chr1", Length: 250}},
	}
	require.NoError(t, CountBins(ctx, args))
	args.FileKey = 2
	args.Sense = Forward
	args.Extension = 100
	require.NoError(t, CountBins(ctx, args))

	s, err := countstore.Open(ctx, storePath, countstore.BinSchema, countstore.Append)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck
	counts := map[uint32][]uint64{}
	require.NoError(t, s.ScanBinCounts(ctx, func(r countstore.BinCountRow) error {
		expect.EQ(t, r.Chromosome, "chr1")
		expect.EQ(t, r.CellType, "mm1s")
		expect.EQ(t, int(r.BinNumber), len(counts[r.FileKey]))
		counts[r.FileKey] = append(counts[r.FileKey], r.Count)
		return nil
	}))
	expect.EQ(t, counts, map[uint32][]uint64{
		1: {2, 1, 1},
		// Forward reads only, extended by 100 bases: r1 spans 10-120, r2 95-205.
		2: {2, 2, 1},
	})
}

func TestCountBinsUnregisteredKey(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "engine")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "sample.bam")
	writeBAM(t, bamPath, []*sam.Record{newRecord("r1", chr1, 10, 0)})
	storePath := newStore(t, tempDir, countstore.BinSchema, 1)
	err := CountBins(context.Background(), BinArgs{
		Threads:   1,
		CellType:  "-",
		BinSize:   100,
		Sense:     Unstranded,
		BAMPath:   bamPath,
		FileKey:   7,
		StorePath: storePath,
		Chroms:    []bamstats.Chrom{{Name: "chr1", Length: 250}},
	})
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Precondition, err), err)
}

func TestCountRegions(t *testing.T) {
	ctx := context.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "engine")
	defer cleanup()
	bamPath := filepath.Join(tempDir, "sample.bam")
	writeBAM(t, bamPath, []*sam.Record{
		newRecord("r1", chr1, 10, 0),
		newRecord("r2", chr1, 95, 0),
		newRecord("r6", chr1, 100, sam.Reverse),
		newRecord("r3", chr1, 200, sam.Reverse),
	})
	regionsPath := filepath.Join(tempDir, "regions.bed")
	require.NoError(t, ioutil.WriteFile(regionsPath, []byte(
		"chr1\t0\t50\ta\t0\t+\n"+
			"chr1\t90\t110\tb\t0\t-\n"+
			"chrX\t0\t10\td\n"+
			"chr1\t30\t30\tempty\n"), 0644))
	storePath := newStore(t, tempDir, countstore.RegionSchema, 2)
	logPath := filepath.Join(tempDir, "log.txt")

	args := RegionArgs{
		Threads:     1,
		RegionsPath: regionsPath,
		Format:      interval.BED,
		BAMPath:     bamPath,
		FileKey:     1,
		StorePath:   storePath,
		LogPath:     logPath,
		Sense:       PerRegion,
		Chroms:      []bamstats.Chrom{{Name: "chr1", Length: 250}, {Name: "chr2", Length: 100}},
	}
	require.NoError(t, CountRegions(ctx, args))
	args.FileKey = 2
	args.Sense = Unstranded
	require.NoError(t, CountRegions(ctx, args))

	s, err := countstore.Open(ctx, storePath, countstore.RegionSchema, countstore.Append)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck
	for key, want := range map[uint32][]uint64{1: {1, 1, 0, 0}, 2: {1, 2, 0, 0}} {
		var (
			got   []uint64
			names []string
		)
		require.NoError(t, s.ScanRegionCounts(ctx, key, func(r countstore.RegionCountRow) error {
			got = append(got, r.Count)
			names = append(names, r.RegionName)
			return nil
		}))
		expect.EQ(t, got, want, "file key %d", key)
		expect.EQ(t, names, []string{"a", "b", "d", "empty"})
	}

	logData, err := ioutil.ReadFile(logPath)
	require.NoError(t, err)
	expect.True(t, strings.Contains(string(logData), "chrX"), string(logData))
}

func TestCountShardedMatchesSequential(t *testing.T) {
	ctx := context.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "engine")
	defer cleanup()
	recs := []*sam.Record{
		newRecord("r1", chr1, 10, 0),
		newRecord("r2", chr1, 95, sam.Reverse),
		newRecord("r3", chr1, 120, 0),
		newRecord("r4", chr1, 240, 0),
		newRecord("r5", chr2, 0, sam.Reverse),
		newRecord("r6", chr2, 55, 0),
		newRecord("r7", nil, -1, sam.Unmapped),
	}
	plainPath := filepath.Join(tempDir, "plain.bam")
	writeBAM(t, plainPath, recs)
	indexedPath := filepath.Join(tempDir, "indexed.bam")
	writeBAM(t, indexedPath, recs)
	indexBAM(t, indexedPath)
	regionsPath := filepath.Join(tempDir, "regions.bed")
	require.NoError(t, ioutil.WriteFile(regionsPath, []byte(
		"chr2\t50\t100\tlate\n"+
			"chr1\t0\t100\tfirst\n"+
			"chr1\t100\t250\tsecond\n"), 0644))
	chroms := []bamstats.Chrom{{Name: "chr1", Length: 250}, {Name: "chr2", Length: 100}}

	binStore := newStore(t, tempDir, countstore.BinSchema, 2)
	for key, path := range map[uint32]string{1: plainPath, 2: indexedPath} {
		require.NoError(t, CountBins(ctx, BinArgs{
			Threads:   4,
			CellType:  "mm1s",
			BinSize:   50,
			Sense:     Unstranded,
			BAMPath:   path,
			FileKey:   key,
			StorePath: binStore,
			Chroms:    chroms,
		}))
	}
	s, err := countstore.Open(ctx, binStore, countstore.BinSchema, countstore.Append)
	require.NoError(t, err)
	bins := map[uint32][]uint64{}
	require.NoError(t, s.ScanBinCounts(ctx, func(r countstore.BinCountRow) error {
		bins[r.FileKey] = append(bins[r.FileKey], r.Count)
		return nil
	}))
	require.NoError(t, s.Close())
	expect.EQ(t, bins[1], []uint64{1, 1, 2, 0, 1, 1, 1})
	expect.EQ(t, bins[2], bins[1])

	regionStore := filepath.Join(tempDir, "regions")
	require.NoError(t, os.MkdirAll(regionStore, 0755))
	regionStore = newStore(t, regionStore, countstore.RegionSchema, 2)
	for key, path := range map[uint32]string{1: plainPath, 2: indexedPath} {
		require.NoError(t, CountRegions(ctx, RegionArgs{
			Threads:     4,
			RegionsPath: regionsPath,
			Format:      interval.BED,
			BAMPath:     path,
			FileKey:     key,
			StorePath:   regionStore,
			Sense:       Unstranded,
			Chroms:      chroms,
		}))
	}
	s, err = countstore.Open(ctx, regionStore, countstore.RegionSchema, countstore.Append)
	require.NoError(t, err)
	defer s.Close() // nolint: errcheck
	for _, key := range []uint32{1, 2} {
		var got []uint64
		require.NoError(t, s.ScanRegionCounts(ctx, key, func(r countstore.RegionCountRow) error {
			got = append(got, r.Count)
			return nil
		}))
		expect.EQ(t, got, []uint64{1, 2, 3}, key)
	}
}
