// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// Format is a region file format.
type Format string

const (
	// BED is the UCSC BED format: 0-based, half-open coordinates.
	BED Format = "bed"
	// GFF is the GFF format: 1-based, closed coordinates.
	GFF Format = "gff"
)

// ParseFormat returns the Format named by s. Any name other than "bed" or
// "gff" is an errors.Invalid error.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case BED, GFF:
		return Format(s), nil
	}
	return "", errors.E(errors.Invalid,
		fmt.Sprintf("only bed and gff region file formats are supported -- %q format specified", s))
}

// FormatFromPath deduces the format of a region file from its extension,
// ignoring a trailing ".gz".
func FormatFromPath(path string) (Format, error) {
	path = strings.TrimSuffix(path, ".gz")
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Region is one named interval of a region file. Start and Stop are kept as
// written in the file so that derived tables report the user's coordinates.
type Region struct {
	Chrom  string
	Name   string
	Start  int64
	Stop   int64
	Strand byte
	Format Format
}

// Start0 returns the 0-based start of the region.
func (r Region) Start0() int64 {
	if r.Format == GFF {
		return r.Start - 1
	}
	return r.Start
}

// End returns the 0-based exclusive end of the region.
func (r Region) End() int64 { return r.Stop }

func parseStrand(s string) byte {
	if s == "+" || s == "-" {
		return s[0]
	}
	return '.'
}

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// ParseBED reads regions from a BED file. Only the first six columns are
// consulted; a missing name becomes "chrom:start-stop" and a missing strand
// becomes '.'. Header lines ("track", "browser", "#") are skipped.
func ParseBED(reader io.Reader) ([]Region, error) {
	scanner := bufio.NewScanner(reader)
	var (
		tokens  [6][]byte
		regions []Region
		lineIdx int
	)
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		if tokens[0][0] == '#' || bytes.Equal(tokens[0], []byte("track")) || bytes.Equal(tokens[0], []byte("browser")) {
			continue
		}
		if nToken < 3 {
			return nil, fmt.Errorf("interval.ParseBED: line %d has fewer tokens than expected", lineIdx)
		}
		start, err := strconv.ParseInt(gunsafe.BytesToString(tokens[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval.ParseBED: line %d: %v", lineIdx, err)
		}
		stop, err := strconv.ParseInt(gunsafe.BytesToString(tokens[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("interval.ParseBED: line %d: %v", lineIdx, err)
		}
		if start < 0 || stop < start {
			return nil, fmt.Errorf("interval.ParseBED: invalid coordinate pair on line %d", lineIdx)
		}
		// Copy; tokens point into the scanner's buffer.
		r := Region{
			Chrom:  string(tokens[0]),
			Start:  start,
			Stop:   stop,
			Strand: '.',
			Format: BED,
		}
		if nToken >= 4 {
			r.Name = string(tokens[3])
		} else {
			r.Name = fmt.Sprintf("%s:%d-%d", r.Chrom, start, stop)
		}
		if nToken >= 6 {
			r.Strand = parseStrand(string(tokens[5]))
		}
		regions = append(regions, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// gffRecord is one line of a GFF file.
type gffRecord struct {
	Chrom      string
	Source     string
	Feature    string
	Start      int
	Stop       int
	Score      string
	Strand     string
	Frame      string
	Attributes string
}

// ParseGFF reads regions from a tab-separated GFF file. The region name is the
// attribute column, or the source column when attributes are empty.
func ParseGFF(reader io.Reader) ([]Region, error) {
	scanner := tsv.NewReader(bufio.NewReaderSize(reader, 64<<10))
	scanner.Comment = '#'
	scanner.LazyQuotes = true
	var (
		line    gffRecord
		regions []Region
	)
	for {
		if err := scanner.Read(&line); err != nil {
			if err != io.EOF {
				return nil, fmt.Errorf("interval.ParseGFF: %v", err)
			}
			break
		}
		if line.Start < 1 || line.Stop < line.Start-1 {
			return nil, fmt.Errorf("interval.ParseGFF: invalid coordinate pair %d-%d for %s", line.Start, line.Stop, line.Chrom)
		}
		name := line.Attributes
		if name == "" || name == "." {
			name = line.Source
		}
		regions = append(regions, Region{
			Chrom:  line.Chrom,
			Name:   name,
			Start:  int64(line.Start),
			Stop:   int64(line.Stop),
			Strand: parseStrand(line.Strand),
			Format: GFF,
		})
	}
	return regions, nil
}

// ReadRegions loads the region file at path, in file order. Gzipped input is
// detected from the path.
func ReadRegions(ctx context.Context, path string, format Format) (regions []Region, err error) {
	infile, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open region file", path)
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, errors.E(err, "open region file", path)
		}
	}
	switch format {
	case BED:
		regions, err = ParseBED(reader)
	case GFF:
		regions, err = ParseGFF(reader)
	default:
		_, err = ParseFormat(string(format))
	}
	if err != nil {
		return nil, errors.E(err, path)
	}
	log.Printf("%s: loaded %d region(s)", path, len(regions))
	return regions, nil
}
