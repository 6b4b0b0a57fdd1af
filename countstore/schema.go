// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package countstore

import (
	"bytes"
	"fmt"
)

// Column describes one column of a counts table.
type Column struct {
	Name string
	// Type is the SQLite storage type: INTEGER, TEXT or REAL.
	Type string
}

// Schema describes the counts table of a store.
type Schema struct {
	// Table is the name of the counts table, e.g. "bin_counts".
	Table   string
	Columns []Column
	// Indexed lists the columns that get a secondary index.
	Indexed []string
}

// Field widths. Longer values are truncated on write.
const (
	CellTypeWidth   = 16
	ChromosomeWidth = 64
	RegionNameWidth = 64
)

// BinSchema is the counts table used in bin mode.
var BinSchema = Schema{
	Table: "bin_counts",
	Columns: []Column{
		{"bin_number", "INTEGER"},
		{"cell_type", "TEXT"},
		{"chromosome", "TEXT"},
		{"count", "INTEGER"},
		{"file_key", "INTEGER"},
	},
	Indexed: []string{"file_key"},
}

// RegionSchema is the counts table used in region mode.
var RegionSchema = Schema{
	Table: "region_counts",
	Columns: []Column{
		{"file_key", "INTEGER"},
		{"chromosome", "TEXT"},
		{"region_name", "TEXT"},
		{"start", "INTEGER"},
		{"stop", "INTEGER"},
		{"strand", "TEXT"},
		{"count", "INTEGER"},
		{"normalized_count", "REAL"},
	},
	Indexed: []string{"file_key"},
}

// createSQL returns the statements that create the counts table and its
// indexes.
func (s Schema) createSQL() []string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", s.Table)
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s %s NOT NULL", c.Name, c.Type)
	}
	b.WriteString(")")
	stmts := []string{b.String()}
	for _, col := range s.Indexed {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", s.Table, col, s.Table, col))
	}
	return stmts
}

// matches reports whether cols, as returned by PRAGMA table_info, describe
// the same table as s.
func (s Schema) matches(cols []Column) bool {
	if len(cols) != len(s.Columns) {
		return false
	}
	for i, c := range s.Columns {
		if cols[i] != c {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
