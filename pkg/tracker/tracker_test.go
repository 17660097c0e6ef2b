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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RowNeedsLineNumber(t *testing.T) {
	tr := New()
	tr.Start()

	tr.Track("status", "something happened", Normal, true)
	tr.Flush() // no line number tracked - dropped

	tr.Track("line", "2", Normal, true)
	tr.Track("status", "User created", Normal, true)
	report := tr.Close()

	require.Len(t, report.Rows(), 1)
	assert.Equal(t, "User created", report.Rows()[0]["status"].Value())
}

func TestTracker_MergeAndReplace(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Track("line", "2", Normal, true)

	tr.Track("enrolments", "Enrolled in BIO101", Normal, true)
	tr.Track("enrolments", "Added to group LabA", Normal, true)
	tr.Track("username", "jdoe", Normal, true)
	tr.Track("username", "jsmith", Normal, false) // replace

	report := tr.Close()
	row := report.Rows()[0]
	assert.Equal(t, "Enrolled in BIO101\nAdded to group LabA", row["enrolments"][Normal])
	assert.Equal(t, "jsmith", row["username"].Value())
}

func TestCell_SeverityPrecedence(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Track("line", "2", Normal, true)
	tr.Track("email", "jdoe@example.org", Normal, true)
	tr.Track("email", "Email already in use", Warning, true)

	row := tr.Close().Rows()[0]
	assert.Equal(t, Warning, row["email"].MaxSeverity())
	assert.Equal(t, "Email already in use", row["email"].Value())
}

func TestTracker_UnknownColumnIgnored(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Track("line", "2", Normal, true)
	tr.Track("shoesize", "44", Normal, true)

	row := tr.Close().Rows()[0]
	_, ok := row["shoesize"]
	assert.False(t, ok)
}

func TestReport_Records(t *testing.T) {
	tr := New()
	tr.Start()
	tr.Track("line", "2", Normal, true)
	tr.Track("username", "jdoe", Normal, true)
	tr.Track("status", "skipped; already registered", Warning, true)
	report := tr.Close()

	records := report.Records(";")
	require.Len(t, records, 2)
	assert.Equal(t, Columns, records[0])

	row := records[1]
	assert.Equal(t, "2", row[1])
	assert.Equal(t, "jdoe", row[3])
	// Delimiter inside cell text is softened.
	assert.Equal(t, "skipped, already registered", row[0])
	// Empty cells render as a single space.
	assert.Equal(t, " ", row[2])
}

func TestReport_PreservesOrder(t *testing.T) {
	tr := New()
	tr.Start()
	for i := 2; i <= 5; i++ {
		tr.Track("line", string(rune('0'+i)), Normal, true)
		tr.Flush()
	}
	report := tr.Close()

	require.Len(t, report.Rows(), 4)
	for i, row := range report.Rows() {
		assert.Equal(t, string(rune('0'+i+2)), row["line"].Value())
	}
}
