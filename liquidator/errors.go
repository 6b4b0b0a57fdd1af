// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import "fmt"

// ExitError reports a counting engine process that exited with a non-zero
// status or was killed by a signal.
type ExitError struct {
	// Path is the executable that was run.
	Path string
	// Code is the exit code, or -1 if the process was killed by Signal.
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("%s was killed by signal %s", e.Path, e.Signal)
	}
	return fmt.Sprintf("%s failed with exit code %d", e.Path, e.Code)
}
