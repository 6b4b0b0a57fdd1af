// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*Package liquidator drives the liquidation of a directory of BAM files into a
  counts store.

  A run discovers the BAM files under an input path, skips the ones already
  registered in the store, registers each new file and invokes an external
  counting engine on it, one file at a time, and finally normalizes the whole
  store. A Strategy supplies the mode-specific parts: bin counting
  (BinStrategy) or region counting (RegionStrategy).

  Re-running over a growing directory liquidates only the new files, because
  the store's registry of file names survives between runs. A failing engine
  process stops the run; rows already written for earlier files stay.

  WriteMatrix and Flatten derive text reports from a finished store. Timings
  collects the durations of a run for a JUnit-style report.
*/
package liquidator
