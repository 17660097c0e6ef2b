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

package reconcile

import (
	"fmt"

	"github.com/odissea/gtafsync/pkg/tracker"
)

// 📊 Result aggregates the counters of one processed file plus its outcome
// report.
type Result struct {
	Created       int
	Updated       int
	UpToDate      int
	Errors        int
	Deleted       int
	DeleteErrors  int
	Renamed       int
	RenameErrors  int
	Skipped       int
	WeakPasswords int

	Report *tracker.Report
}

// Failed reports whether the file needs the administrator's attention.
func (r *Result) Failed() bool {
	return r.Errors > 0 || r.Skipped > 0 || r.DeleteErrors > 0 || r.RenameErrors > 0
}

// Summary renders the end-of-run counts line.
func (r *Result) Summary() string {
	return fmt.Sprintf(
		"created %d, updated %d, up to date %d, deleted %d, renamed %d, skipped %d, weak passwords %d, errors %d",
		r.Created, r.Updated, r.UpToDate, r.Deleted, r.Renamed, r.Skipped, r.WeakPasswords,
		r.Errors+r.DeleteErrors+r.RenameErrors)
}
