// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package liquidator

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Timing is one named duration.
type Timing struct {
	Label    string
	Duration time.Duration
}

// Timings collects named durations. Recording a label again replaces its
// duration but keeps its position.
type Timings struct {
	entries []Timing
	index   map[string]int
}

// Record sets the duration of label.
func (t *Timings) Record(label string, d time.Duration) {
	if i, ok := t.index[label]; ok {
		t.entries[i].Duration = d
		return
	}
	if t.index == nil {
		t.index = map[string]int{}
	}
	t.index[label] = len(t.entries)
	t.entries = append(t.entries, Timing{label, d})
}

// Entries returns the recorded durations in first-record order.
func (t *Timings) Entries() []Timing {
	return append([]Timing(nil), t.entries...)
}

// WriteJUnitXML writes the durations as a JUnit test suite with one test case
// per label, so that CI dashboards can chart them.
func (t *Timings) WriteJUnitXML(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "<testsuite tests=\"%d\">\n", len(t.entries)) // nolint: errcheck
	for _, e := range t.entries {
		bw.WriteString("\t<testcase classname=\"bamliquidator\" name=\"") // nolint: errcheck
		if err := xml.EscapeText(bw, []byte(e.Label)); err != nil {
			return err
		}
		fmt.Fprintf(bw, "\" time=\"%f\"/>\n", e.Duration.Seconds()) // nolint: errcheck
	}
	bw.WriteString("</testsuite>\n") // nolint: errcheck
	return bw.Flush()
}

// WriteTimingsFile writes the run's timings to timings.xml in the output
// directory.
func (l *Liquidator) WriteTimingsFile(ctx context.Context) (err error) {
	path := filepath.Join(l.opts.OutputDir, "timings.xml")
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	return l.timings.WriteJUnitXML(out.Writer(ctx))
}
