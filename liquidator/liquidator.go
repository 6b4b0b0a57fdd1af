// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/liquidator/bamstats"
	"github.com/grailbio/liquidator/countstore"
)

// State is the progress of a Liquidator run.
type State int

const (
	// Start is the state before Run.
	Start State = iota
	// Preprocessing reads the mapped read count of every new file.
	Preprocessing
	// Liquidating registers and counts the new files one at a time.
	Liquidating
	// Normalizing runs the strategy's whole-store pass.
	Normalizing
	// Done is the terminal state of a successful run.
	Done
	// Failed is the terminal state of a run that returned an error.
	Failed
)

var stateNames = [...]string{"start", "preprocessing", "liquidating", "normalizing", "done", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Job describes the liquidation of one input file.
type Job struct {
	// Path is the input file.
	Path string
	// Name is the name the file is registered under, its base name.
	Name string
	// CellType is the base name of the file's directory, or "-".
	CellType string
	Key      uint32
	// TotalReads is the file's mapped read count.
	TotalReads uint64
	// Chroms are the chromosomes to count, after blacklist filtering.
	Chroms []bamstats.Chrom
	// StorePath and LogPath are the store and run log the engine appends to.
	StorePath string
	LogPath   string
	// Index is the 1-based position of the job in the run, of Total.
	Index, Total int
}

// Strategy supplies the mode-specific parts of a run.
type Strategy interface {
	// Name is a short name of the mode, used in logs.
	Name() string
	// Executable is the counting engine to run for each file.
	Executable() string
	// Schema is the layout of the store's counts table.
	Schema() countstore.Schema
	// SkipNonCanonical reports whether blacklisted chromosomes are dropped
	// from the engine arguments.
	SkipNonCanonical() bool
	// Args is the engine's argument vector for job.
	Args(job Job) []string
	// Normalize runs once after every file was liquidated.
	Normalize(ctx context.Context, l *Liquidator) error
}

// ReadCounter returns the mapped read count and the chromosomes of a BAM
// file.
type ReadCounter func(ctx context.Context, path string) (uint64, []bamstats.Chrom, error)

// Option customizes a Liquidator.
type Option func(*Liquidator)

// WithRunner replaces the process runner. The default is ExecRunner.
func WithRunner(r Runner) Option {
	return func(l *Liquidator) { l.runner = r }
}

// WithReadCounter replaces bamstats.TotalMappedReads.
func WithReadCounter(fn ReadCounter) Option {
	return func(l *Liquidator) { l.readCounter = fn }
}

// WithTimings records the run's durations into t.
func WithTimings(t *Timings) Option {
	return func(l *Liquidator) { l.timings = t }
}

// fileStats is what preprocessing learns about one input file.
type fileStats struct {
	total  uint64
	chroms []bamstats.Chrom
	key    uint32
}

// runCache holds per-file state for the duration of one Run.
type runCache struct {
	files map[string]*fileStats
}

func newRunCache() *runCache {
	return &runCache{files: map[string]*fileStats{}}
}

func (c *runCache) put(name string, s *fileStats) { c.files[name] = s }

func (c *runCache) get(name string) (*fileStats, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.files[name]
	return s, ok
}

// Liquidator runs a Strategy over the input files of Opts. A Liquidator is
// not safe for concurrent use; its store is held open by at most one party
// at a time.
type Liquidator struct {
	strategy    Strategy
	opts        Opts
	runner      Runner
	readCounter ReadCounter
	timings     *Timings
	state       State
	cache       *runCache
	liquidated  []string
}

// New returns a Liquidator for strategy.
func New(strategy Strategy, opts Opts, options ...Option) *Liquidator {
	l := &Liquidator{
		strategy:    strategy,
		opts:        opts,
		runner:      ExecRunner{},
		readCounter: bamstats.TotalMappedReads,
		timings:     &Timings{},
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Opts returns the options the Liquidator was created with.
func (l *Liquidator) Opts() Opts { return l.opts }

// State returns the progress of the current or last run.
func (l *Liquidator) State() State { return l.state }

// Timings returns the durations recorded so far.
func (l *Liquidator) Timings() *Timings { return l.timings }

// Liquidated returns the paths liquidated by the last run, in order.
func (l *Liquidator) Liquidated() []string { return l.liquidated }

// StorePath returns the path of the counts store.
func (l *Liquidator) StorePath() string {
	if l.opts.CountsFile != "" {
		return l.opts.CountsFile
	}
	return filepath.Join(l.opts.OutputDir, storeName)
}

// LogPath returns the run log engines append their warnings to.
func (l *Liquidator) LogPath() string {
	return filepath.Join(l.opts.OutputDir, "log.txt")
}

// OpenStore opens the counts store for appending.
func (l *Liquidator) OpenStore(ctx context.Context) (*countstore.Store, error) {
	return countstore.Open(ctx, l.StorePath(), l.strategy.Schema(), countstore.Append)
}

// CellType returns the cell type of the input file at path: the base name of
// its directory, or "-" for a file given without one.
func CellType(path string) string {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return "-"
	}
	return filepath.Base(dir)
}

// ChromosomeArgs returns the chromosomes of the named file as learned during
// preprocessing. With skipNonCanonical, chromosomes whose name contains any
// blacklist pattern are left out.
func (l *Liquidator) ChromosomeArgs(name string, skipNonCanonical bool) ([]bamstats.Chrom, error) {
	stats, ok := l.cache.get(name)
	if !ok {
		return nil, errors.E(errors.Precondition, fmt.Sprintf("%s was not preprocessed", name))
	}
	if !skipNonCanonical {
		return stats.chroms, nil
	}
	var chroms []bamstats.Chrom
	for _, c := range stats.chroms {
		if blacklisted(c.Name, l.opts.Blacklist) {
			log.Debug.Printf("%s: skipping blacklisted chromosome %s", name, c.Name)
			continue
		}
		chroms = append(chroms, c)
	}
	return chroms, nil
}

func blacklisted(chrom string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(chrom, p) {
			return true
		}
	}
	return false
}

// Run liquidates every input file not yet registered in the store, then
// normalizes the store. It stops at the first error, leaving the rows of
// files liquidated before it in place.
func (l *Liquidator) Run(ctx context.Context) (err error) {
	l.cache = newRunCache()
	l.liquidated = nil
	defer func() {
		l.cache = nil
		if err != nil {
			l.state = Failed
		}
	}()
	if err := os.MkdirAll(l.opts.OutputDir, 0755); err != nil {
		return errors.E(err, "create output directory", l.opts.OutputDir)
	}

	l.state = Preprocessing
	paths, err := l.preprocess(ctx)
	if err != nil {
		return err
	}
	startTime := time.Now()
	l.state = Liquidating
	for i, path := range paths {
		if err := l.liquidate(ctx, path, i+1, len(paths)); err != nil {
			return err
		}
	}
	l.timings.Record("liquidation", time.Since(startTime))

	startTime = time.Now()
	l.state = Normalizing
	if err := l.strategy.Normalize(ctx, l); err != nil {
		return errors.E(err, l.strategy.Name(), "normalization")
	}
	l.timings.Record("post_liquidation", time.Since(startTime))
	l.state = Done
	return nil
}

// preprocess creates or opens the store, selects the unregistered inputs, and
// caches the read count and chromosomes of each.
func (l *Liquidator) preprocess(ctx context.Context) ([]string, error) {
	mode := countstore.CreateNew
	if l.opts.CountsFile != "" {
		mode = countstore.Append
	}
	s, err := countstore.Open(ctx, l.StorePath(), l.strategy.Schema(), mode)
	if err != nil {
		return nil, err
	}
	names, err := s.RegisteredNames(ctx)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	all, err := Discover(l.opts.InputPath, l.opts.InputExtension)
	if err != nil {
		return nil, err
	}
	paths := FilterUnregistered(all, names)
	log.Printf("%s: %d of %d input file(s) are new, %d file(s) already in %s",
		l.strategy.Name(), len(paths), len(all), len(names), l.StorePath())
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if prev, ok := seen[name]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("%s and %s share the name %s", prev, path, name))
		}
		seen[name] = path
		total, chroms, err := l.readCounter(ctx, path)
		if err != nil {
			return nil, err
		}
		l.cache.put(name, &fileStats{total: total, chroms: chroms})
	}
	return paths, nil
}

// register appends the file to the store's registry, verifies the registry,
// and releases the store before the engine opens it.
func (l *Liquidator) register(ctx context.Context, name string, stats *fileStats) (err error) {
	s, err := l.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if stats.key, err = s.Register(ctx, name, stats.total); err != nil {
		return err
	}
	return s.CheckConsistency(ctx)
}

func (l *Liquidator) liquidate(ctx context.Context, path string, index, total int) error {
	name := filepath.Base(path)
	stats, _ := l.cache.get(name)
	if err := l.register(ctx, name, stats); err != nil {
		return err
	}
	chroms, err := l.ChromosomeArgs(name, l.strategy.SkipNonCanonical())
	if err != nil {
		return err
	}
	job := Job{
		Path:       path,
		Name:       name,
		CellType:   CellType(path),
		Key:        stats.key,
		TotalReads: stats.total,
		Chroms:     chroms,
		StorePath:  l.StorePath(),
		LogPath:    l.LogPath(),
		Index:      index,
		Total:      total,
	}
	exe := l.strategy.Executable()
	log.Printf("Liquidating %s (file %d of %d)", path, index, total)
	startTime := time.Now()
	code, err := l.runner.Run(ctx, exe, l.strategy.Args(job))
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Path: exe, Code: code}
	}
	elapsed := time.Since(startTime)
	rate := float64(stats.total) / 1e6 / elapsed.Seconds()
	log.Printf("Liquidation of %s completed: %v, %d reads, %.2f million reads/sec",
		name, elapsed, stats.total, rate)
	l.liquidated = append(l.liquidated, path)
	return nil
}
