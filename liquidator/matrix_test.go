// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// regionStore creates a region store with one registered file per element of
// rowsPerFile, each with that many rows.
func regionStore(t *testing.T, dir string, rowsPerFile ...int) *countstore.Store {
	ctx := context.Background()
	s, err := countstore.Open(ctx, filepath.Join(dir, "counts.db"), countstore.RegionSchema, countstore.CreateNew)
	require.NoError(t, err)
	for i, n := range rowsPerFile {
		key, err := s.Register(ctx, string(rune('a'+i))+".bam", 1000)
		require.NoError(t, err)
		var rows []countstore.RegionCountRow
		for j := 0; j < n; j++ {
			rows = append(rows, countstore.RegionCountRow{
				FileKey:         key,
				Chromosome:      "chr1",
				RegionName:      "r" + string(rune('1'+j)),
				Start:           uint64(100 * j),
				Stop:            uint64(100*j + 50),
				Strand:          '+',
				NormalizedCount: float64(key) + float64(j)/3,
			})
		}
		require.NoError(t, s.AppendRegionCounts(ctx, rows))
	}
	return s
}

func TestWriteMatrix(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "matrix")
	defer cleanup()
	s := regionStore(t, tempDir, 3, 3)
	defer s.Close() // nolint: errcheck

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(context.Background(), &buf, s))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	expect.EQ(t, lines[0], "GENE_ID\tlocusLine\tbin_1_a.bam\tbin_1_b.bam")
	expect.EQ(t, lines[1:], []string{
		"r1\tchr1(+):0-50\t1.0\t2.0",
		"r2\tchr1(+):100-150\t1.3333\t2.3333",
		"r3\tchr1(+):200-250\t1.6667\t2.6667",
	})
}

func TestWriteMatrixPreconditions(t *testing.T) {
	for _, rows := range [][]int{{}, {3, 2}, {4, 2}, {2, 4}} {
		tempDir, cleanup := testutil.TempDir(t, "", "matrix")
		s := regionStore(t, tempDir, rows...)
		var buf bytes.Buffer
		err := WriteMatrix(context.Background(), &buf, s)
		require.Error(t, err, "%v", rows)
		expect.True(t, errors.Is(errors.Precondition, err), "%v: %v", rows, err)
		require.NoError(t, s.Close())
		cleanup()
	}
}

func TestFormatValue(t *testing.T) {
	for _, test := range []struct {
		v    float64
		want string
	}{
		{0, "0.0"},
		{1, "1.0"},
		{2.5, "2.5"},
		{0.123456, "0.1235"},
		{0.00004, "0.0"},
		{123456.789, "123456.789"},
		{-1.23456, "-1.2346"},
	} {
		expect.EQ(t, formatValue(test.v), test.want, test.v)
	}
}
