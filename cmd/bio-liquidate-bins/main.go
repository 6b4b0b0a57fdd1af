// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

/*
bio-liquidate-bins counts the reads of one BAM file into fixed-size bins and
appends the counts to a counts store. It is started by bio-liquidator once per
input file; see package engine for the argument vector.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/liquidator/engine"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s threads cell_type bin_size extension sense bam_path file_key store_path log_path warnings [chrom length]...\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	args, err := engine.ParseBinArgs(flag.Args())
	if err == nil {
		err = engine.CountBins(context.Background(), args)
	}
	if err != nil {
		log.Error.Printf("%v", err)
		shutdown()
		os.Exit(1)
	}
	shutdown()
}
