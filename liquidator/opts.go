// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

// Opts configures a Liquidator.
type Opts struct {
	// InputPath is a BAM file or a directory searched recursively for files
	// ending in InputExtension.
	InputPath      string
	InputExtension string
	// OutputDir receives log.txt and the derived reports. It also holds the
	// store unless CountsFile is set.
	OutputDir string
	// CountsFile names an existing store to append to. Empty means create a
	// new store at OutputDir/counts.db.
	CountsFile string
	// Extension extends each read by this many bases in its direction.
	Extension int
	// Sense is the strand filter: '+', '-' or '.'. Zero selects the
	// strategy's default.
	Sense byte
	// Threads is the read concurrency of each engine process.
	Threads int
	// IncludeWarnings makes the engine echo its warnings to stderr; they are
	// always appended to log.txt.
	IncludeWarnings bool

	// BinSize is the bin width in bin mode.
	BinSize int
	// SkipPlot disables the plot tables of bin normalization.
	SkipPlot bool
	// Blacklist holds substrings of chromosome names excluded in bin mode.
	Blacklist []string

	// RegionsFile is the BED or GFF file of region mode.
	RegionsFile string
	// RegionFormat is "bed" or "gff". Empty deduces it from RegionsFile.
	RegionFormat string
}

// DefaultBlacklist matches the names of unplaced and alternate-haplotype
// contigs.
var DefaultBlacklist = []string{"chrUn", "_random", "Zv9_", "_hap"}

// DefaultOpts sets the default values of Opts.
var DefaultOpts = Opts{
	InputExtension:  ".bam",
	OutputDir:       "output",
	Threads:         1,
	IncludeWarnings: true,
	BinSize:         100000,
	Blacklist:       DefaultBlacklist,
}

// storeName is the store created in OutputDir when no CountsFile is given.
const storeName = "counts.db"
