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

// Package staging owns the local directory layout used by one synchronization
// root: pending files waiting to be processed, permanent backups, quarantined
// files that failed validation, per-file result logs, and run logs.
package staging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Subdirectory names under the configured output root.
const (
	PendingDir     = "pending"
	BackupDir      = "backup"
	BackupErrorDir = "backup_error"
	ResultsDir     = "results"
	LogDir         = "log"
)

var (
	// ErrUnavailable marks the staging area as unusable for the whole run.
	ErrUnavailable = errors.Base("staging folders unavailable")

	ErrNoSuchFile     = errors.Base("no such staged file")
	ErrAlreadyPending = errors.Base("file already exists in pending")
)

// 📂 Area manages the staging directories under a single output root. At most
// one active run per root is assumed; the run lock in pkg/sync enforces it.
type Area struct {
	root      string
	available bool
}

// 🏭 New creates an Area rooted at root. EnsureDirectories must be called
// before any file operation.
func New(root string) *Area {
	return &Area{root: filepath.Clean(root)}
}

func (a *Area) Root() string        { return a.root }
func (a *Area) Pending() string     { return filepath.Join(a.root, PendingDir) }
func (a *Area) Backup() string      { return filepath.Join(a.root, BackupDir) }
func (a *Area) BackupError() string { return filepath.Join(a.root, BackupErrorDir) }
func (a *Area) Results() string     { return filepath.Join(a.root, ResultsDir) }
func (a *Area) Logs() string        { return filepath.Join(a.root, LogDir) }

// Available reports whether EnsureDirectories succeeded. A run must never
// proceed against an unavailable area.
func (a *Area) Available() bool { return a.available }

// EnsureDirectories creates (idempotently, recursively) every staging
// directory. On failure it reports one error per directory that could not be
// created and flags the area unavailable.
func (a *Area) EnsureDirectories(ctx context.Context) error {
	dirs := []string{a.root, a.Pending(), a.Backup(), a.BackupError(), a.Results(), a.Logs()}

	var errs []error
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, errors.Errorf("creating directory %s: %w", dir, err))
		}
	}
	if len(errs) > 0 {
		a.available = false
		errs = append([]error{ErrUnavailable}, errs...)
		return errors.Join(errs...)
	}

	a.available = true
	zerolog.Ctx(ctx).Debug().Str("root", a.root).Msg("staging directories ready")
	return nil
}

// ListPending returns the file names currently staged for processing, sorted.
func (a *Area) ListPending(ctx context.Context) ([]string, error) {
	return listFiles(a.Pending())
}

// ListBackup returns the file names kept in the backup directory, sorted.
func (a *Area) ListBackup(ctx context.Context) ([]string, error) {
	return listFiles(a.Backup())
}

// StoreBackup copies a pending file into the backup directory under a
// collision-safe name and returns the name used. Backups are never
// overwritten.
func (a *Area) StoreBackup(ctx context.Context, name string) (string, error) {
	resolved, err := ResolveName(a.Backup(), name)
	if err != nil {
		return "", errors.Errorf("resolving backup name: %w", err)
	}
	if err := copyFile(filepath.Join(a.Pending(), name), filepath.Join(a.Backup(), resolved)); err != nil {
		return "", errors.Errorf("backing up %s: %w", name, err)
	}
	zerolog.Ctx(ctx).Debug().Str("file", name).Str("backup", resolved).Msg("stored backup copy")
	return resolved, nil
}

// Quarantine moves a pending file into the backup-error directory under a
// collision-safe name, keeping it for manual inspection. The file leaves the
// pending directory so it is never processed again.
func (a *Area) Quarantine(ctx context.Context, name string) (string, error) {
	resolved, err := ResolveName(a.BackupError(), name)
	if err != nil {
		return "", errors.Errorf("resolving quarantine name: %w", err)
	}
	if err := os.Rename(filepath.Join(a.Pending(), name), filepath.Join(a.BackupError(), resolved)); err != nil {
		return "", errors.Errorf("quarantining %s: %w", name, err)
	}
	zerolog.Ctx(ctx).Warn().Str("file", name).Str("quarantined_as", resolved).Msg("file moved to backup-error")
	return resolved, nil
}

// RemovePending deletes a processed file from the pending directory.
func (a *Area) RemovePending(ctx context.Context, name string) error {
	if err := os.Remove(filepath.Join(a.Pending(), name)); err != nil {
		return errors.Errorf("removing pending file %s: %w", name, err)
	}
	return nil
}

// Restore copies a file from backup back into pending so it can be processed
// again. It refuses when the source is missing or the target already exists.
func (a *Area) Restore(ctx context.Context, name string) error {
	src := filepath.Join(a.Backup(), name)
	dst := filepath.Join(a.Pending(), name)

	if _, err := os.Stat(src); os.IsNotExist(err) {
		return errors.Errorf("%s: %w", name, ErrNoSuchFile)
	} else if err != nil {
		return errors.Errorf("checking backup file %s: %w", name, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return errors.Errorf("%s: %w", name, ErrAlreadyPending)
	} else if !os.IsNotExist(err) {
		return errors.Errorf("checking pending file %s: %w", name, err)
	}

	if err := copyFile(src, dst); err != nil {
		return errors.Errorf("restoring %s from backup: %w", name, err)
	}
	zerolog.Ctx(ctx).Info().Str("file", name).Msg("restored file from backup")
	return nil
}

// Discard deletes a file from the pending directory without processing it.
func (a *Area) Discard(ctx context.Context, name string) error {
	path := filepath.Join(a.Pending(), name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.Errorf("%s: %w", name, ErrNoSuchFile)
	} else if err != nil {
		return errors.Errorf("checking pending file %s: %w", name, err)
	}
	if err := os.Remove(path); err != nil {
		return errors.Errorf("discarding %s: %w", name, err)
	}
	zerolog.Ctx(ctx).Info().Str("file", name).Msg("discarded pending file")
	return nil
}

// WriteResults persists one result log under the results directory with a
// collision-safe name and returns the name used.
func (a *Area) WriteResults(ctx context.Context, name string, content []byte) (string, error) {
	resolved, err := ResolveName(a.Results(), name)
	if err != nil {
		return "", errors.Errorf("resolving results name: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.Results(), resolved), content, 0o644); err != nil {
		return "", errors.Errorf("writing results file %s: %w", resolved, err)
	}
	return resolved, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Errorf("listing %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return errors.Errorf("opening source file: %w", err)
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return errors.Errorf("creating destination file: %w", err)
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return errors.Errorf("copying file: %w", err)
	}
	return nil
}
