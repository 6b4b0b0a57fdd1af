// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/liquidator/bamstats"
	"github.com/grailbio/liquidator/interval"
)

// Strand filters accepted by the engines.
const (
	// Forward counts only forward-strand reads.
	Forward byte = '+'
	// Reverse counts only reverse-strand reads.
	Reverse byte = '-'
	// Unstranded counts reads on both strands.
	Unstranded byte = '.'
	// PerRegion applies each region's own strand; regions without one are
	// unstranded. Only region liquidation accepts it.
	PerRegion byte = '_'
)

// BinArgs is the argument vector of bio-liquidate-bins:
//
//   threads cell_type bin_size extension sense bam_path file_key store_path
//   log_path warnings [chrom length]...
type BinArgs struct {
	Threads   int
	CellType  string
	BinSize   int
	Extension int
	Sense     byte
	BAMPath   string
	FileKey   uint32
	StorePath string
	LogPath   string
	Warnings  bool
	Chroms    []bamstats.Chrom
}

// RegionArgs is the argument vector of bio-liquidate-regions:
//
//   threads regions_path format extension bam_path file_key store_path
//   log_path warnings sense [chrom length]...
type RegionArgs struct {
	Threads     int
	RegionsPath string
	Format      interval.Format
	Extension   int
	BAMPath     string
	FileKey     uint32
	StorePath   string
	LogPath     string
	Warnings    bool
	Sense       byte
	Chroms      []bamstats.Chrom
}

const (
	nBinFixed    = 10
	nRegionFixed = 10
)

// Args renders a as the positional argument vector, excluding the program
// name.
func (a BinArgs) Args() []string {
	args := []string{
		strconv.Itoa(a.Threads),
		a.CellType,
		strconv.Itoa(a.BinSize),
		strconv.Itoa(a.Extension),
		string(a.Sense),
		a.BAMPath,
		strconv.FormatUint(uint64(a.FileKey), 10),
		a.StorePath,
		a.LogPath,
		formatWarnings(a.Warnings),
	}
	return appendChroms(args, a.Chroms)
}

// Args renders a as the positional argument vector, excluding the program
// name.
func (a RegionArgs) Args() []string {
	args := []string{
		strconv.Itoa(a.Threads),
		a.RegionsPath,
		string(a.Format),
		strconv.Itoa(a.Extension),
		a.BAMPath,
		strconv.FormatUint(uint64(a.FileKey), 10),
		a.StorePath,
		a.LogPath,
		formatWarnings(a.Warnings),
		string(a.Sense),
	}
	return appendChroms(args, a.Chroms)
}

// ParseBinArgs parses the argument vector of bio-liquidate-bins. Malformed
// vectors are errors.Invalid.
func ParseBinArgs(args []string) (a BinArgs, err error) {
	if len(args) < nBinFixed {
		return a, errors.E(errors.Invalid, fmt.Sprintf("expected at least %d arguments, got %d", nBinFixed, len(args)))
	}
	p := parser{args: args}
	a.Threads = p.positive("threads", 0)
	a.CellType = p.nonEmpty("cell type", 1)
	a.BinSize = p.positive("bin size", 2)
	a.Extension = p.nonNegative("extension", 3)
	a.Sense = p.sense(4, false)
	a.BAMPath = p.nonEmpty("bam path", 5)
	a.FileKey = p.fileKey(6)
	a.StorePath = p.nonEmpty("store path", 7)
	a.LogPath = args[8]
	a.Warnings = p.warnings(9)
	a.Chroms = p.chroms(nBinFixed)
	return a, p.err
}

// ParseRegionArgs parses the argument vector of bio-liquidate-regions.
// Malformed vectors are errors.Invalid.
func ParseRegionArgs(args []string) (a RegionArgs, err error) {
	if len(args) < nRegionFixed {
		return a, errors.E(errors.Invalid, fmt.Sprintf("expected at least %d arguments, got %d", nRegionFixed, len(args)))
	}
	p := parser{args: args}
	a.Threads = p.positive("threads", 0)
	a.RegionsPath = p.nonEmpty("regions path", 1)
	if p.err == nil {
		a.Format, p.err = interval.ParseFormat(args[2])
	}
	a.Extension = p.nonNegative("extension", 3)
	a.BAMPath = p.nonEmpty("bam path", 4)
	a.FileKey = p.fileKey(5)
	a.StorePath = p.nonEmpty("store path", 6)
	a.LogPath = args[7]
	a.Warnings = p.warnings(8)
	a.Sense = p.sense(9, true)
	a.Chroms = p.chroms(nRegionFixed)
	return a, p.err
}

func formatWarnings(w bool) string {
	if w {
		return "1"
	}
	return "0"
}

func appendChroms(args []string, chroms []bamstats.Chrom) []string {
	for _, c := range chroms {
		args = append(args, c.Name, strconv.Itoa(c.Length))
	}
	return args
}

// parser records the first error; later calls are no-ops once it is set.
type parser struct {
	args []string
	err  error
}

func (p *parser) fail(i int, msg string) {
	if p.err == nil {
		p.err = errors.E(errors.Invalid, fmt.Sprintf("argument %d (%q): %s", i+1, p.args[i], msg))
	}
}

func (p *parser) integer(name string, i int) int {
	v, err := strconv.Atoi(p.args[i])
	if err != nil {
		p.fail(i, name+" must be an integer")
	}
	return v
}

func (p *parser) positive(name string, i int) int {
	v := p.integer(name, i)
	if v <= 0 {
		p.fail(i, name+" must be positive")
	}
	return v
}

func (p *parser) nonNegative(name string, i int) int {
	v := p.integer(name, i)
	if v < 0 {
		p.fail(i, name+" must not be negative")
	}
	return v
}

func (p *parser) nonEmpty(name string, i int) string {
	if p.args[i] == "" {
		p.fail(i, name+" must not be empty")
	}
	return p.args[i]
}

func (p *parser) fileKey(i int) uint32 {
	v, err := strconv.ParseUint(p.args[i], 10, 32)
	if err != nil || v == 0 {
		p.fail(i, "file key must be a positive 32-bit integer")
	}
	return uint32(v)
}

func (p *parser) warnings(i int) bool {
	switch p.args[i] {
	case "1":
		return true
	case "0":
		return false
	}
	p.fail(i, `warnings flag must be "1" or "0"`)
	return false
}

func (p *parser) sense(i int, perRegion bool) byte {
	s := p.args[i]
	if len(s) == 1 {
		switch s[0] {
		case Forward, Reverse, Unstranded:
			return s[0]
		case PerRegion:
			if perRegion {
				return s[0]
			}
		}
	}
	p.fail(i, "unsupported strand filter")
	return 0
}

func (p *parser) chroms(first int) []bamstats.Chrom {
	rest := p.args[first:]
	if len(rest)%2 != 0 {
		p.fail(len(p.args)-1, "chromosome arguments must be name/length pairs")
		return nil
	}
	chroms := make([]bamstats.Chrom, 0, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		chroms = append(chroms, bamstats.Chrom{
			Name:   rest[i],
			Length: p.nonNegative("chromosome length", first+i+1),
		})
	}
	return chroms
}
