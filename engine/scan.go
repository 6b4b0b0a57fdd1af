// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/liquidator/bamstats"
)

// readFn is called for every mapped record of one reference.
type readFn func(rec *sam.Record) error

// shardFn returns the readFn for the records of ref, or nil if ref is not
// counted. It is called once per reference, before any of its records are
// read. The readFns of different references may run concurrently, so each
// must only touch state owned by its reference.
type shardFn func(ref *sam.Reference) readFn

// scanBAM delivers every mapped record of the BAM file at path to the readFn
// of its reference. With a .bai index, each counted reference is a shard read
// by its own reader, up to threads shards at a time. Without one, the file is
// read once from start to end.
func scanBAM(ctx context.Context, path string, threads int, shards shardFn) (nReads int64, err error) {
	idx, err := bamstats.ReadIndex(ctx, path)
	if err != nil {
		return 0, err
	}
	if idx == nil {
		log.Debug.Printf("%s: no index, reading sequentially", path)
		return scanSequential(ctx, path, threads, shards)
	}
	header, err := readHeader(ctx, path)
	if err != nil {
		return 0, err
	}
	// Index lookups sort the index lazily, so chunks are resolved before the
	// shards start.
	var shardList []shard
	for _, ref := range header.Refs() {
		fn := shards(ref)
		if fn == nil {
			continue
		}
		chunks, err := idx.Chunks(ref, 0, ref.Len())
		if err == index.ErrNoReference || err == index.ErrInvalid {
			// The index records no reads on ref.
			continue
		}
		if err != nil {
			return 0, errors.E(err, fmt.Sprintf("%s: index chunks of %s", path, ref.Name()))
		}
		shardList = append(shardList, shard{ref: ref, chunks: chunks, fn: fn})
	}
	log.Debug.Printf("%s: reading %d reference shard(s), %d at a time", path, len(shardList), threads)
	err = traverse.Limit(threads).Each(len(shardList), func(i int) error {
		n, err := scanShard(ctx, path, shardList[i])
		atomic.AddInt64(&nReads, n)
		return err
	})
	return nReads, err
}

// shard is the index chunks holding the records of one reference.
type shard struct {
	ref    *sam.Reference
	chunks []bgzf.Chunk
	fn     readFn
}

func mapped(rec *sam.Record) bool {
	return rec.Flags&sam.Unmapped == 0 && rec.Ref != nil && rec.Pos >= 0
}

func openBAM(ctx context.Context, path string, threads int) (file.File, *bam.Reader, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open", path)
	}
	reader, err := bam.NewReader(in.Reader(ctx), threads)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, nil, errors.E(err, "read BAM header", path)
	}
	return in, reader, nil
}

func readHeader(ctx context.Context, path string) (*sam.Header, error) {
	in, reader, err := openBAM(ctx, path, 1)
	if err != nil {
		return nil, err
	}
	header := reader.Header()
	reader.Close() // nolint: errcheck
	return header, in.Close(ctx)
}

// scanShard reads the records of one reference through its own reader.
func scanShard(ctx context.Context, path string, sh shard) (nReads int64, err error) {
	in, reader, err := openBAM(ctx, path, 1)
	if err != nil {
		return 0, err
	}
	defer func() {
		reader.Close() // nolint: errcheck
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	it, err := bam.NewIterator(reader, sh.chunks)
	if err != nil {
		return 0, errors.E(err, fmt.Sprintf("%s: seek to %s", path, sh.ref.Name()))
	}
	for it.Next() {
		rec := it.Record()
		if !mapped(rec) || rec.Ref.ID() != sh.ref.ID() {
			continue
		}
		nReads++
		if err := sh.fn(rec); err != nil {
			it.Close() // nolint: errcheck
			return nReads, err
		}
	}
	if err := it.Close(); err != nil {
		return nReads, errors.E(err, "read", path, sh.ref.Name())
	}
	return nReads, nil
}

// scanSequential reads the whole file with threads decompression goroutines.
func scanSequential(ctx context.Context, path string, threads int, shards shardFn) (nReads int64, err error) {
	in, reader, err := openBAM(ctx, path, threads)
	if err != nil {
		return 0, err
	}
	defer func() {
		reader.Close() // nolint: errcheck
		if cerr := in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	refs := reader.Header().Refs()
	fns := make([]readFn, len(refs))
	for i, ref := range refs {
		fns[i] = shards(ref)
	}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return nReads, nil
		}
		if err != nil {
			return nReads, errors.E(err, "read", path)
		}
		if !mapped(rec) {
			continue
		}
		id := rec.Ref.ID()
		if id < 0 || id >= len(fns) || fns[id] == nil {
			continue
		}
		nReads++
		if err := fns[id](rec); err != nil {
			return nReads, err
		}
	}
}
