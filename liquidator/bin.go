// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/liquidator/engine"
	"github.com/grailbio/liquidator/normalize"
)

// BinEngine is the counting engine of bin mode.
const BinEngine = "bio-liquidate-bins"

// BinStrategy counts reads into fixed-size bins along every chromosome not
// matched by the blacklist.
type BinStrategy struct {
	opts Opts
	exe  string
}

// NewBinStrategy returns the bin strategy for opts.
func NewBinStrategy(opts Opts) (*BinStrategy, error) {
	if opts.BinSize <= 0 {
		return nil, errors.E(errors.Invalid, "bin size must be positive")
	}
	switch opts.Sense {
	case 0:
		opts.Sense = engine.Unstranded
	case engine.Forward, engine.Reverse, engine.Unstranded:
	default:
		return nil, errors.E(errors.Invalid, "sense must be '+', '-' or '.'")
	}
	return &BinStrategy{opts: opts, exe: ResolveExecutable(BinEngine)}, nil
}

// Name implements Strategy.
func (b *BinStrategy) Name() string { return "bin" }

// Executable implements Strategy.
func (b *BinStrategy) Executable() string { return b.exe }

// Schema implements Strategy.
func (b *BinStrategy) Schema() countstore.Schema { return countstore.BinSchema }

// SkipNonCanonical implements Strategy.
func (b *BinStrategy) SkipNonCanonical() bool { return true }

// Args implements Strategy.
func (b *BinStrategy) Args(job Job) []string {
	return engine.BinArgs{
		Threads:   b.opts.Threads,
		CellType:  job.CellType,
		BinSize:   b.opts.BinSize,
		Extension: b.opts.Extension,
		Sense:     b.opts.Sense,
		BAMPath:   job.Path,
		FileKey:   job.Key,
		StorePath: job.StorePath,
		LogPath:   job.LogPath,
		Warnings:  b.opts.IncludeWarnings,
		Chroms:    job.Chroms,
	}.Args()
}

// Normalize implements Strategy.
func (b *BinStrategy) Normalize(ctx context.Context, l *Liquidator) (err error) {
	s, err := l.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return normalize.Bins(ctx, s, normalize.Opts{
		OutputDir: b.opts.OutputDir,
		BinSize:   b.opts.BinSize,
		SkipPlot:  b.opts.SkipPlot,
	})
}
