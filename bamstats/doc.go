// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bamstats computes per-file statistics needed before liquidation: the
// reference sequences listed in a BAM header and the total number of mapped
// reads in the file.
package bamstats
