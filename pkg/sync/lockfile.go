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

package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"gitlab.com/tozd/go/errors"
)

// ErrLocked reports a concurrent run against the same staging root.
var ErrLocked = errors.Base("another run holds the lock")

const lockName = "gtafsync.lock"

// 🔒 runLock is a lock file under the staging root. The pipeline is strictly
// sequential, so two schedulers must never share a root.
type runLock struct {
	path string
}

// acquireLock takes the lock for the given root, failing fast when a lock
// file already exists.
func acquireLock(root string) (*runLock, error) {
	path := filepath.Join(root, lockName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, errors.Errorf("creating lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, errors.Errorf("writing lock file: %w", err)
	}
	return &runLock{path: path}, nil
}

func (l *runLock) release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Errorf("removing lock file: %w", err)
	}
	return nil
}
