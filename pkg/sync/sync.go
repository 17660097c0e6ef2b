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

// Package sync drives one synchronization cycle: list the remote drop
// directory, stage recognized batch files, reconcile each one against the
// user directory, persist its results log, and notify the administrator when
// an unattended run ends with failures. The pipeline is strictly sequential;
// one file completes, side effects and results log included, before the next
// begins.
package sync

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/odissea/gtafsync/pkg/directory"
	"github.com/odissea/gtafsync/pkg/notify"
	"github.com/odissea/gtafsync/pkg/reconcile"
	"github.com/odissea/gtafsync/pkg/staging"
	"github.com/odissea/gtafsync/pkg/transport"
)

// Run-aborting error kinds. Per-file problems never carry these; they end up
// in the run's failure map instead.
var (
	ErrFoldersUnavailable   = errors.Base("staging directories unavailable")
	ErrTransportUnavailable = errors.Base("remote server unavailable")
)

// Options configures one Orchestrator.
type Options struct {
	// RemoteDir is the drop directory on the remote server.
	RemoteDir string
	// Patterns are the glob patterns a remote file name must match to be
	// staged; everything else is ignored silently.
	Patterns []string
	// Reconcile configures the per-file record reconciler.
	Reconcile reconcile.Options
	// Mailer, when set, receives the aggregate failure summary after an
	// unattended run with failures.
	Mailer *notify.Mailer
	// Unattended marks scheduled runs: failures are mailed instead of shown.
	Unattended bool
}

// 🎼 Orchestrator owns one staging root and runs synchronization cycles
// against it. It is not safe for concurrent use; the run lock enforces one
// active cycle per root across processes too.
type Orchestrator struct {
	area *staging.Area
	tr   transport.Transport
	dir  directory.Directory
	opts Options
}

// New wires an Orchestrator from its collaborators.
func New(area *staging.Area, tr transport.Transport, dir directory.Directory, opts Options) *Orchestrator {
	return &Orchestrator{area: area, tr: tr, dir: dir, opts: opts}
}

// Results maps each processed file name to its reconciliation result.
type Results map[string]*reconcile.Result

// Failures maps a file name to the human-readable reason it failed.
type Failures map[string]string

// Run executes one full cycle and returns the per-file results plus the
// failure map. Only a run-level abort (lock, folders, transport) returns a
// non-nil error; per-file failures are collected and the run continues.
func (o *Orchestrator) Run(ctx context.Context) (Results, Failures, error) {
	logger := zerolog.Ctx(ctx)

	if err := o.area.EnsureDirectories(ctx); err != nil {
		return nil, nil, errors.Errorf("%w: %w", ErrFoldersUnavailable, err)
	}

	lock, err := acquireLock(o.area.Root())
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := lock.release(); err != nil {
			logger.Warn().Err(err).Msg("releasing run lock")
		}
	}()

	failures := make(Failures)

	if err := o.fetchRemote(ctx, failures); err != nil {
		return nil, nil, err
	}

	pending, err := o.area.ListPending(ctx)
	if err != nil {
		return nil, nil, errors.Errorf("%w: %w", ErrFoldersUnavailable, err)
	}

	results := make(Results)
	for _, name := range pending {
		logger.Info().Str("file", name).Msg("processing")
		res, err := o.processFile(ctx, name)
		if err != nil {
			failures[name] = err.Error()
			continue
		}
		results[name] = res
		if res.Failed() {
			failures[name] = res.Summary()
		}
	}

	if o.opts.Unattended && len(failures) > 0 && o.opts.Mailer != nil {
		if err := o.opts.Mailer.FailureSummary(ctx, failures); err != nil {
			logger.Error().Err(err).Msg("sending failure summary")
		}
	}

	logger.Info().Int("files", len(results)).Int("failures", len(failures)).Msg("cycle finished")
	return results, failures, nil
}

// fetchRemote downloads every recognized remote file into pending, deleting
// the remote copy once the download is safe on disk. A connection failure
// aborts the run; a single file's failure is recorded and skipped.
func (o *Orchestrator) fetchRemote(ctx context.Context, failures Failures) error {
	logger := zerolog.Ctx(ctx)

	if err := o.tr.Connect(ctx); err != nil {
		return errors.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	defer func() {
		if err := o.tr.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing transport")
		}
	}()

	names, err := o.tr.ListFiles(ctx, o.opts.RemoteDir)
	if err != nil {
		return errors.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	for _, name := range names {
		if !o.recognized(name) {
			continue
		}
		logger.Info().Str("file", name).Msg("retrieving file")

		local, err := staging.ResolveName(o.area.Pending(), name)
		if err != nil {
			failures[name] = err.Error()
			continue
		}
		remote := name
		if o.opts.RemoteDir != "" {
			remote = o.opts.RemoteDir + "/" + name
		}
		if err := o.tr.Fetch(ctx, remote, filepath.Join(o.area.Pending(), local)); err != nil {
			failures[name] = err.Error()
			continue
		}
		if err := o.tr.Delete(ctx, remote); err != nil {
			logger.Warn().Str("file", name).Err(err).Msg("remote copy not deleted")
		}
	}
	return nil
}

func (o *Orchestrator) recognized(name string) bool {
	for _, pattern := range o.opts.Patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// processFile reconciles one pending file: back it up, stream it through the
// reconciler, persist the results log, and drop it from pending. Malformed
// files are quarantined whole.
func (o *Orchestrator) processFile(ctx context.Context, name string) (*reconcile.Result, error) {
	if _, err := o.area.StoreBackup(ctx, name); err != nil {
		return nil, errors.Errorf("backing up: %w", err)
	}

	f, err := os.Open(filepath.Join(o.area.Pending(), name))
	if err != nil {
		return nil, errors.Errorf("opening: %w", err)
	}

	res, err := reconcile.New(o.dir, o.opts.Reconcile).Run(ctx, f)
	_ = f.Close()
	if err != nil {
		if errors.Is(err, reconcile.ErrMalformedFile) {
			if _, qerr := o.area.Quarantine(ctx, name); qerr != nil {
				zerolog.Ctx(ctx).Error().Str("file", name).Err(qerr).Msg("quarantine failed")
			}
		}
		return nil, err
	}

	if err := o.writeResults(ctx, name, res); err != nil {
		return nil, err
	}
	if err := o.area.RemovePending(ctx, name); err != nil {
		return nil, errors.Errorf("removing pending copy: %w", err)
	}
	return res, nil
}

// writeResults persists the per-row report as a semicolon-delimited CSV,
// transcoded to ISO-8859-1 for the downstream consumer.
func (o *Orchestrator) writeResults(ctx context.Context, name string, res *reconcile.Result) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'
	if err := w.WriteAll(res.Report.Records(";")); err != nil {
		return errors.Errorf("encoding results: %w", err)
	}

	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	data, err := enc.Bytes(buf.Bytes())
	if err != nil {
		return errors.Errorf("transcoding results: %w", err)
	}

	resultName := strings.TrimSuffix(name, filepath.Ext(name)) + ".csv"
	if _, err := o.area.WriteResults(ctx, resultName, data); err != nil {
		return errors.Errorf("persisting results: %w", err)
	}
	return nil
}

// ListRemote returns the recognized files currently on the drop server.
func (o *Orchestrator) ListRemote(ctx context.Context) ([]string, error) {
	if err := o.tr.Connect(ctx); err != nil {
		return nil, errors.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	defer o.tr.Close()

	names, err := o.tr.ListFiles(ctx, o.opts.RemoteDir)
	if err != nil {
		return nil, errors.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	recognized := names[:0]
	for _, name := range names {
		if o.recognized(name) {
			recognized = append(recognized, name)
		}
	}
	return recognized, nil
}

// ListPending returns the staged files waiting for processing.
func (o *Orchestrator) ListPending(ctx context.Context) ([]string, error) {
	return o.area.ListPending(ctx)
}

// ListBackup returns the processed files kept in backup.
func (o *Orchestrator) ListBackup(ctx context.Context) ([]string, error) {
	return o.area.ListBackup(ctx)
}

// Restore copies a backup file back into pending for reprocessing.
func (o *Orchestrator) Restore(ctx context.Context, name string) error {
	return o.area.Restore(ctx, name)
}

// Discard removes a file from pending without processing it.
func (o *Orchestrator) Discard(ctx context.Context, name string) error {
	return o.area.Discard(ctx, name)
}
