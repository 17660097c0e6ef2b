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

package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// parenSuffix matches a stem that already carries a numeric disambiguator,
// e.g. "alumnes(3)".
var parenSuffix = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// 🔢 ResolveName returns a file name guaranteed not to collide with an existing
// entry in dir, appending a numeric suffix in parentheses before the extension:
// "alumnes.csv" -> "alumnes(1).csv" -> "alumnes(2).csv". A stem that already
// ends in "(n)" has its number incremented rather than a second suffix stacked.
//
// The result is pure over the directory's current listing: repeated calls
// without creating the file return the same name. The caller must create the
// file promptly; there is no reservation.
func ResolveName(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	next := 1
	if m := parenSuffix.FindStringSubmatch(stem); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			stem = m[1]
			next = n + 1
		}
	}

	candidate := name
	for {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", errors.Errorf("checking candidate %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s(%d)%s", stem, next, ext)
		next++
	}
}
