// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-liquidator counts the reads of a directory of BAM files into fixed-size
genomic bins (the default) or into the regions of a BED or GFF file
(-regions), storing the counts of every file in one SQLite counts store.

Re-running with -counts pointing at the store of a prior bin run counts only
the BAM files that are not in the store yet.
*/

import (
	"context"
	"flag"
	"fmt"
	"io"
	golog "log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/liquidator/liquidator"
)

var (
	binSize      = flag.Int("bin-size", liquidator.DefaultOpts.BinSize, "Number of base pairs in each bin; exclusive with -regions")
	regionsFile  = flag.String("regions", "", "Count reads per region of this .bed or .gff file instead of per bin")
	regionFormat = flag.String("region-format", "", "Interpret the regions file as 'bed' or 'gff'. Default is to deduce the format from its extension")
	outputDir    = flag.String("out", liquidator.DefaultOpts.OutputDir, "Directory receiving the counts store, log.txt, and reports. Created if necessary")
	countsFile   = flag.String("counts", "", "Counts store of a prior bin run to append to. Default is to create counts.db in -out")
	flatten      = flag.Bool("flatten", false, "Write every store table as a tab-separated <table>.tab in -out")
	extension    = flag.Int("extension", liquidator.DefaultOpts.Extension, "Extend reads by this many bases")
	sense        = flag.String("sense", "", "Count reads on the '+' or '-' strand only, or '.' for both. Default is both, or the per-region strand for regions")
	matrix       = flag.Bool("matrix", false, "Write the normalized region counts as matrix.txt in -out; ignored without -regions")
	skipPlot     = flag.Bool("skip-plot", false, "Skip writing the plot tables of bin normalization")
	blacklist    = flag.String("blacklist", strings.Join(liquidator.DefaultBlacklist, ","), "Comma-separated chromosome name substrings skipped when counting bins")
	quiet        = flag.Bool("quiet", false, "Only write errors to stderr; log.txt in -out still gets everything")
	threads      = flag.Int("threads", 0, "Reference shards read in parallel by each counting process, or its decompression threads when a BAM has no index; 0 = runtime.NumCPU()")
	xmlTimings   = flag.Bool("xml-timings", false, "Write JUnit-style timings.xml in -out")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "devel"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] bam_dir_or_file\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

// opts validates the flags into liquidator.Opts.
func opts(input string) (liquidator.Opts, error) {
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["bin-size"] && explicit["regions"] {
		return liquidator.Opts{}, errors.E(errors.Invalid, "-bin-size and -regions are mutually exclusive")
	}
	if *matrix && *regionsFile == "" {
		log.Printf("ignoring -matrix: it is only supported with -regions")
		*matrix = false
	}
	o := liquidator.DefaultOpts
	o.InputPath = input
	o.OutputDir = *outputDir
	o.CountsFile = *countsFile
	o.Extension = *extension
	o.Threads = *threads
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	o.IncludeWarnings = !*quiet
	o.BinSize = *binSize
	o.SkipPlot = *skipPlot
	o.Blacklist = nil
	for _, p := range strings.Split(*blacklist, ",") {
		if p = strings.TrimSpace(p); p != "" {
			o.Blacklist = append(o.Blacklist, p)
		}
	}
	o.RegionsFile = *regionsFile
	o.RegionFormat = *regionFormat
	switch *sense {
	case "":
	case "+", "-", ".":
		o.Sense = (*sense)[0]
	default:
		return o, errors.E(errors.Invalid, fmt.Sprintf("-sense must be '+', '-' or '.', not %q", *sense))
	}
	return o, nil
}

// teeLog sends log output to <outDir>/log.txt, and to stderr unless quiet.
func teeLog(outDir string, quiet bool) (io.Closer, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(outDir, "log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	if quiet {
		golog.SetOutput(f)
	} else {
		golog.SetOutput(io.MultiWriter(os.Stderr, f))
	}
	return f, nil
}

func run(input string) error {
	ctx := context.Background()
	o, err := opts(input)
	if err != nil {
		return err
	}
	var strategy liquidator.Strategy
	if o.RegionsFile != "" {
		strategy, err = liquidator.NewRegionStrategy(o)
	} else {
		strategy, err = liquidator.NewBinStrategy(o)
	}
	if err != nil {
		return err
	}
	logFile, err := teeLog(o.OutputDir, *quiet)
	if err != nil {
		return errors.E(err, "open log in", o.OutputDir)
	}
	defer logFile.Close() // nolint: errcheck

	l := liquidator.New(strategy, o)
	if err := l.Run(ctx); err != nil {
		return err
	}
	log.Printf("%s liquidation of %d file(s) done", strategy.Name(), len(l.Liquidated()))
	if *flatten {
		if err := l.Flatten(ctx); err != nil {
			return err
		}
	}
	if *matrix {
		if err := l.WriteMatrixFile(ctx); err != nil {
			return err
		}
	}
	if *xmlTimings {
		if err := l.WriteTimingsFile(ctx); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	if *showVersion {
		fmt.Printf("%s %s\n", filepath.Base(os.Args[0]), version)
		shutdown()
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		shutdown()
		os.Exit(2)
	}
	if err := run(flag.Arg(0)); err != nil {
		log.Error.Printf("%v", err)
		if *quiet {
			fmt.Fprintln(os.Stderr, err)
		}
		shutdown()
		os.Exit(1)
	}
	shutdown()
}
