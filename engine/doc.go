// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package engine counts the reads of one BAM file into bins or regions and
  appends the counts to a counts store under a previously registered file key.

  The engine runs as its own process, bio-liquidate-bins or
  bio-liquidate-regions, driven by a positional argument vector. BinArgs and
  RegionArgs both parse and render that vector so that the caller and the
  engine share one definition of it. Exit code 0 means the rows for the file
  key are durably in the store.
*/
package engine
