// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package normalize implements the whole-store passes run after all files of
// a batch have been liquidated. Both passes are recomputed from the raw counts
// on every run, so a store that grew by appended files is normalized as a
// whole.
package normalize
