// Copyright 2026 the gtafsync authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracker accumulates per-row reconciliation outcomes into a
// structured report and a renderable, severity-colored table.
package tracker

import (
	"strings"
)

// 🚦 Severity classifies one tracked message.
type Severity int

const (
	Normal Severity = iota
	Info
	Warning
	Error

	severityCount int = iota
)

// String returns a string representation of Severity.
func (s Severity) String() string {
	switch s {
	case Normal:
		return "normal"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Columns is the fixed column set of the outcome table, in emission order.
var Columns = []string{
	"status", "line", "id", "username", "firstname", "lastname",
	"email", "password", "auth", "enrolments", "suspended", "deleted",
}

// Cell holds the accumulated text per severity for one column of the row
// being built.
type Cell [severityCount]string

// Value returns the text of the highest non-empty severity, which is what the
// persisted CSV log carries for the cell.
func (c Cell) Value() string {
	for s := severityCount - 1; s >= 0; s-- {
		if c[s] != "" {
			return c[s]
		}
	}
	return ""
}

// MaxSeverity returns the highest severity with any text, Normal when empty.
func (c Cell) MaxSeverity() Severity {
	for s := severityCount - 1; s >= 0; s-- {
		if c[s] != "" {
			return Severity(s)
		}
	}
	return Normal
}

// Row is one flushed outcome row, keyed by column name.
type Row map[string]Cell

// 📊 Report is the ordered sequence of outcome rows for one processed file,
// header first. Exactly one row per input data row, in file order.
type Report struct {
	rows []Row
}

// Rows returns the flushed data rows in insertion order.
func (r *Report) Rows() []Row { return r.rows }

// Records renders the report as delimited-log records: a header record with
// the column names followed by one record per row carrying each cell's
// highest-severity text. Occurrences of the delimiter inside cell text are
// softened to commas so the record stays unambiguous.
func (r *Report) Records(delimiter string) [][]string {
	out := make([][]string, 0, len(r.rows)+1)
	out = append(out, append([]string(nil), Columns...))
	for _, row := range r.rows {
		rec := make([]string, 0, len(Columns))
		for _, col := range Columns {
			v := row[col].Value()
			if v == "" {
				v = " "
			}
			rec = append(rec, strings.ReplaceAll(v, delimiter, ","))
		}
		out = append(out, rec)
	}
	return out
}

// 📈 Tracker builds a Report one row at a time. Usage: Start, then per input
// row any number of Track calls followed by Flush, then Close.
type Tracker struct {
	report  *Report
	current Row
	started bool
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}

// Start begins a new table, discarding any previous state.
func (t *Tracker) Start() {
	t.report = &Report{}
	t.current = newRow()
	t.started = true
}

// Track records msg for the named column at the given severity. When merge is
// true the message is appended to any text already tracked for that column
// and severity; when false it replaces it. Unknown columns are ignored.
func (t *Tracker) Track(col, msg string, severity Severity, merge bool) {
	if !t.started {
		t.Start()
	}
	if !knownColumn(col) {
		return
	}
	cell := t.current[col]
	if merge && cell[severity] != "" {
		cell[severity] += "\n" + msg
	} else {
		cell[severity] = msg
	}
	t.current[col] = cell
}

// Flush emits the row under construction and starts a fresh one. A row that
// never tracked a line number is considered empty and is dropped.
func (t *Tracker) Flush() {
	if !t.started {
		t.Start()
		return
	}
	if t.current["line"][Normal] != "" {
		t.report.rows = append(t.report.rows, t.current)
	}
	t.current = newRow()
}

// Close flushes the pending row and returns the finished report.
func (t *Tracker) Close() *Report {
	t.Flush()
	report := t.report
	t.report = nil
	t.started = false
	return report
}

func newRow() Row {
	r := make(Row, len(Columns))
	for _, col := range Columns {
		r[col] = Cell{}
	}
	return r
}

func knownColumn(col string) bool {
	for _, c := range Columns {
		if c == col {
			return true
		}
	}
	return false
}
