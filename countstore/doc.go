// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package countstore implements the persistent, append-only store that holds
// read counts produced by the liquidation engines.
//
// A store is a single SQLite file containing
//
//   files       the registry: file key -> total mapped read count
//   file_names  file names, indexed by file key; index 0 is the "*" sentinel
//               that denotes "all files of a cell type" in derived tables
//   bin_counts or region_counts
//               exactly one counts table, chosen by the Schema the store was
//               created with
//
// File keys are allocated monotonically starting at 1 and are never reused or
// rewritten. The store supports a single writer at a time; callers close it
// before handing the path to another process.
package countstore
