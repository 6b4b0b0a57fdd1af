// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// warnLog appends warnings to the shared run log. All engine processes of a
// run append to the same file, one process at a time. Printf may be called
// from concurrent shards.
type warnLog struct {
	mu   sync.Mutex
	f    *os.File
	echo bool
	n    int
}

// openWarnLog opens path for appending; an empty path discards warnings
// except for the echo to the process log.
func openWarnLog(path string, echo bool) (*warnLog, error) {
	w := &warnLog{echo: echo}
	if path == "" {
		return w, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.E(err, "open log file", path)
	}
	w.f = f
	return w, nil
}

func (w *warnLog) Printf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.n++
	if w.f != nil {
		fmt.Fprintf(w.f, "%s WARNING %s\n", time.Now().Format(time.RFC3339), msg) // nolint: errcheck
	}
	if w.echo {
		log.Printf("WARNING %s", msg)
	}
}

func (w *warnLog) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}
