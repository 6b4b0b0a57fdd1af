// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"runtime"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/gosh"
)

// The steps share the process-wide flag set, so they run in order.
func TestOpts(t *testing.T) {
	require.NoError(t, flag.Set("blacklist", "chrUn, _alt,,"))
	o, err := opts("in")
	require.NoError(t, err)
	expect.EQ(t, o.InputPath, "in")
	expect.EQ(t, o.Blacklist, []string{"chrUn", "_alt"})
	expect.EQ(t, o.Threads, runtime.NumCPU())
	expect.EQ(t, o.Sense, byte(0))
	expect.True(t, o.IncludeWarnings)

	require.NoError(t, flag.Set("sense", "x"))
	_, err = opts("in")
	expect.True(t, errors.Is(errors.Invalid, err), err)
	require.NoError(t, flag.Set("sense", "-"))
	o, err = opts("in")
	require.NoError(t, err)
	expect.EQ(t, o.Sense, byte('-'))

	require.NoError(t, flag.Set("matrix", "true"))
	_, err = opts("in")
	require.NoError(t, err)
	expect.False(t, *matrix)
	require.NoError(t, flag.Set("matrix", "true"))
	require.NoError(t, flag.Set("regions", "peaks.bed"))
	o, err = opts("in")
	require.NoError(t, err)
	expect.EQ(t, o.RegionsFile, "peaks.bed")
	expect.True(t, *matrix)

	require.NoError(t, flag.Set("bin-size", "1000"))
	_, err = opts("in")
	require.Error(t, err)
	expect.True(t, errors.Is(errors.Invalid, err), err)
}

func TestVersion(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	bin := gosh.BuildGoPkg(sh, sh.MakeTempDir(), "github.com/grailbio/liquidator/cmd/bio-liquidator")
	out := sh.Cmd(bin, "-version").Stdout()
	expect.EQ(t, out, "bio-liquidator devel\n")
}
