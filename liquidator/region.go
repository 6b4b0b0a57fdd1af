// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/liquidator/countstore"
	"github.com/grailbio/liquidator/engine"
	"github.com/grailbio/liquidator/interval"
	"github.com/grailbio/liquidator/normalize"
)

// RegionEngine is the counting engine of region mode.
const RegionEngine = "bio-liquidate-regions"

// RegionStrategy counts the reads overlapping each region of a BED or GFF
// file.
type RegionStrategy struct {
	opts   Opts
	format interval.Format
	exe    string
}

// NewRegionStrategy returns the region strategy for opts. An unsupported
// region format and a request to append to an existing store are both
// errors.Invalid; neither touches any store.
func NewRegionStrategy(opts Opts) (*RegionStrategy, error) {
	if opts.RegionsFile == "" {
		return nil, errors.E(errors.Invalid, "a regions file is required")
	}
	var (
		format interval.Format
		err    error
	)
	if opts.RegionFormat != "" {
		format, err = interval.ParseFormat(opts.RegionFormat)
	} else {
		format, err = interval.FormatFromPath(opts.RegionsFile)
	}
	if err != nil {
		return nil, err
	}
	if opts.CountsFile != "" {
		// Matrix projection pairs rows by position, which only holds for a
		// store filled in a single run.
		return nil, errors.E(errors.Invalid, "Appending to a prior regions counts file is not supported")
	}
	switch opts.Sense {
	case 0:
		opts.Sense = engine.PerRegion
	case engine.Forward, engine.Reverse, engine.Unstranded:
	default:
		return nil, errors.E(errors.Invalid, "sense must be '+', '-' or '.'")
	}
	return &RegionStrategy{opts: opts, format: format, exe: ResolveExecutable(RegionEngine)}, nil
}

// Format returns the region file format in use.
func (r *RegionStrategy) Format() interval.Format { return r.format }

// Name implements Strategy.
func (r *RegionStrategy) Name() string { return "region" }

// Executable implements Strategy.
func (r *RegionStrategy) Executable() string { return r.exe }

// Schema implements Strategy.
func (r *RegionStrategy) Schema() countstore.Schema { return countstore.RegionSchema }

// SkipNonCanonical implements Strategy.
func (r *RegionStrategy) SkipNonCanonical() bool { return false }

// Args implements Strategy.
func (r *RegionStrategy) Args(job Job) []string {
	return engine.RegionArgs{
		Threads:     r.opts.Threads,
		RegionsPath: r.opts.RegionsFile,
		Format:      r.format,
		Extension:   r.opts.Extension,
		BAMPath:     job.Path,
		FileKey:     job.Key,
		StorePath:   job.StorePath,
		LogPath:     job.LogPath,
		Warnings:    r.opts.IncludeWarnings,
		Sense:       r.opts.Sense,
		Chroms:      job.Chroms,
	}.Args()
}

// Normalize implements Strategy.
func (r *RegionStrategy) Normalize(ctx context.Context, l *Liquidator) (err error) {
	s, err := l.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return normalize.Regions(ctx, s, r.format)
}
