// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// Runner starts a counting engine process and waits for it to exit.
type Runner interface {
	// Run runs exe with args and returns its exit code. A process killed by a
	// signal returns -1 and an *ExitError; any other non-nil error means the
	// process could not be run at all.
	Run(ctx context.Context, exe string, args []string) (int, error)
}

// ExecRunner runs engines as child processes sharing this process's stdout
// and stderr.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, exe string, args []string) (int, error) {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Debug.Printf("running %s %v", exe, args)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, &ExitError{Path: exe, Code: -1, Signal: ws.Signal().String()}
		}
	}
	return -1, errors.E(err, "run", exe)
}

// ResolveExecutable locates the named engine: next to the running binary
// first, then on $PATH. If neither has it, name is returned unchanged and the
// failure surfaces when it is run.
func ResolveExecutable(name string) string {
	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	if path, err := lookpath.Look(envvar.SliceToMap(os.Environ()), name); err == nil {
		return path
	}
	return name
}
