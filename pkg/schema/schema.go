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

// Package schema validates the header row of a user batch file and maps its
// columns to known record fields.
package schema

import (
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrTooFewColumns   = errors.Base("header must have at least 2 columns")
	ErrDuplicateColumn = errors.Base("duplicate column name")
	ErrUnknownColumn   = errors.Base("unknown column name")
)

// ProfileFieldPrefix marks columns mapped to custom profile fields known to
// the user directory.
const ProfileFieldPrefix = "profile_field_"

// standardFields is the fixed set of account field names accepted in a header.
var standardFields = map[string]struct{}{
	"id": {}, "firstname": {}, "lastname": {}, "username": {}, "email": {},
	"city": {}, "country": {}, "lang": {}, "timezone": {}, "mailformat": {},
	"maildisplay": {}, "maildigest": {}, "htmleditor": {}, "autosubscribe": {},
	"institution": {}, "department": {}, "idnumber": {}, "skype": {},
	"msn": {}, "aim": {}, "yahoo": {}, "icq": {}, "phone1": {}, "phone2": {},
	"address": {}, "url": {}, "description": {}, "descriptionformat": {},
	"password": {},
	"auth":     {}, // watch out when switching auth methods on existing accounts
	"oldusername": {},
	"suspended":   {},
	"deleted":     {},
}

// indexedColumn matches the enrolment side-effect columns: course1, group1,
// role1, type1, enrolperiod1, cohort1, ...
var indexedColumn = regexp.MustCompile(`^(course|group|role|type|enrolperiod|cohort)(\d+)$`)

// StandardFields returns the fixed field-name set, for callers that apply
// configured defaults to absent fields.
func StandardFields() []string {
	out := make([]string, 0, len(standardFields))
	for f := range standardFields {
		out = append(out, f)
	}
	return out
}

// 🧭 Column is one validated header column.
type Column struct {
	// Name is the normalized (trimmed, lower-cased) column name.
	Name string
	// Base is the column family for indexed columns ("course" for "course3");
	// equal to Name otherwise.
	Base string
	// Index is the numeric suffix of an indexed column.
	Index int
	// Profile is true for profile_field_* columns.
	Profile bool
}

// Indexed reports whether the column belongs to an indexed family.
func (c Column) Indexed() bool { return c.Name != c.Base }

// ValidateHeader normalizes and validates a header row against the standard
// field set, the directory's custom profile fields, and the indexed column
// families. Any violation rejects the whole file; there is no partial header
// acceptance.
func ValidateHeader(columns []string, profileFields []string) ([]Column, error) {
	if len(columns) < 2 {
		return nil, errors.Errorf("%w: got %d", ErrTooFewColumns, len(columns))
	}

	profiles := make(map[string]struct{}, len(profileFields))
	for _, f := range profileFields {
		profiles[ProfileFieldPrefix+f] = struct{}{}
	}

	out := make([]Column, 0, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for _, raw := range columns {
		name := strings.ToLower(strings.TrimSpace(raw))

		col, ok := classify(name, profiles)
		if !ok {
			return nil, errors.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Errorf("%w: %q", ErrDuplicateColumn, name)
		}
		seen[name] = struct{}{}
		out = append(out, col)
	}
	return out, nil
}

func classify(name string, profiles map[string]struct{}) (Column, bool) {
	if _, ok := standardFields[name]; ok {
		return Column{Name: name, Base: name}, true
	}
	if _, ok := profiles[name]; ok {
		return Column{Name: name, Base: name, Profile: true}, true
	}
	if m := indexedColumn.FindStringSubmatch(name); m != nil {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return Column{}, false
		}
		return Column{Name: name, Base: m[1], Index: idx}, true
	}
	return Column{}, false
}
