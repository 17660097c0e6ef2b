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

package tracker

import (
	"strings"

	"github.com/pterm/pterm"
)

// Render produces the severity-colored terminal table for interactive runs.
// Every severity's text is shown; cells are colored by their highest
// severity.
func (r *Report) Render() (string, error) {
	data := pterm.TableData{append([]string(nil), Columns...)}
	for _, row := range r.rows {
		rec := make([]string, 0, len(Columns))
		for _, col := range Columns {
			cell := row[col]
			var parts []string
			for s := 0; s < severityCount; s++ {
				if cell[s] != "" {
					parts = append(parts, cell[s])
				}
			}
			text := strings.Join(parts, " | ")
			switch cell.MaxSeverity() {
			case Error:
				text = pterm.FgRed.Sprint(text)
			case Warning:
				text = pterm.FgYellow.Sprint(text)
			case Info:
				text = pterm.FgCyan.Sprint(text)
			}
			rec = append(rec, text)
		}
		data = append(data, rec)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}
