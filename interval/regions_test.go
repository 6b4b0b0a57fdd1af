// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"regions.bed", BED, true},
		{"/a/b/regions.gff", GFF, true},
		{"regions.bed.gz", BED, true},
		{"regions.gtf", "", false},
		{"regions", "", false},
		{"regions.BED", "", false},
	}
	for _, test := range tests {
		got, err := FormatFromPath(test.path)
		if !test.ok {
			require.Error(t, err, test.path)
			expect.True(t, errors.Is(errors.Invalid, err), test.path)
			continue
		}
		require.NoError(t, err, test.path)
		expect.EQ(t, got, test.want, test.path)
	}
}

func TestParseBED(t *testing.T) {
	const data = `track name=test
# comment
chr1	100	200	peak1	0	+
chr1 300 400

chr2	5	10	peak3	0	-
`
	regions, err := ParseBED(strings.NewReader(data))
	require.NoError(t, err)
	expect.EQ(t, regions, []Region{
		{Chrom: "chr1", Name: "peak1", Start: 100, Stop: 200, Strand: '+', Format: BED},
		{Chrom: "chr1", Name: "chr1:300-400", Start: 300, Stop: 400, Strand: '.', Format: BED},
		{Chrom: "chr2", Name: "peak3", Start: 5, Stop: 10, Strand: '-', Format: BED},
	})
	expect.EQ(t, regions[0].Start0(), int64(100))
	expect.EQ(t, regions[0].End(), int64(200))

	_, err = ParseBED(strings.NewReader("chr1\t10\n"))
	require.Error(t, err)
	_, err = ParseBED(strings.NewReader("chr1\t10\t5\n"))
	require.Error(t, err)
}

func TestParseGFF(t *testing.T) {
	const data = "#gff\n" +
		"chr1\tREGION_A\t\t101\t200\t\t+\t\tREGION_A\n" +
		"chr2\tREGION_B\t\t11\t20\t.\t.\t.\t\n"
	regions, err := ParseGFF(strings.NewReader(data))
	require.NoError(t, err)
	expect.EQ(t, regions, []Region{
		{Chrom: "chr1", Name: "REGION_A", Start: 101, Stop: 200, Strand: '+', Format: GFF},
		{Chrom: "chr2", Name: "REGION_B", Start: 11, Stop: 20, Strand: '.', Format: GFF},
	})
	expect.EQ(t, regions[0].Start0(), int64(100))
	expect.EQ(t, regions[0].End(), int64(200))
}

func TestReadRegionsGzip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "interval")
	defer cleanup()
	path := filepath.Join(tempDir, "regions.bed.gz")
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte("chr1\t0\t10\tr1\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, ioutil.WriteFile(path, buf.Bytes(), 0644))

	format, err := FormatFromPath(path)
	require.NoError(t, err)
	regions, err := ReadRegions(context.Background(), path, format)
	require.NoError(t, err)
	expect.EQ(t, regions, []Region{{Chrom: "chr1", Name: "r1", Start: 0, Stop: 10, Strand: '.', Format: BED}})
}
