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

package commands

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/odissea/gtafsync/cmd/gtafsync/opts"
	"github.com/odissea/gtafsync/pkg/directory"
	"github.com/odissea/gtafsync/pkg/log"
	"github.com/odissea/gtafsync/pkg/notify"
	"github.com/odissea/gtafsync/pkg/staging"
	"github.com/odissea/gtafsync/pkg/sync"
	"github.com/odissea/gtafsync/pkg/transport"
)

// OptsLoader builds the shared command dependencies after flag parsing.
type OptsLoader func(ctx context.Context) (*opts.RootOpts, error)

// NewSyncCmd creates a new sync command
func NewSyncCmd(load OptsLoader) *cobra.Command {
	var unattended bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization cycle",
		Long: `Sync runs one full cycle against the remote drop server:
1. List the drop directory and stage recognized batch files
2. Reconcile each file against the user directory
3. Persist a per-row results log for every processed file
4. Mail an aggregate failure summary when running unattended`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctx = zerolog.Ctx(ctx).With().Str("command", "sync").Logger().WithContext(ctx)

			ro, err := load(ctx)
			if err != nil {
				return err
			}

			// Unattended runs get a wall-clock budget.
			if unattended && ro.Config.BudgetMinutes > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx,
					time.Duration(ro.Config.BudgetMinutes)*time.Minute)
				defer cancel()
			}

			orch, err := buildOrchestrator(ro, unattended)
			if err != nil {
				return err
			}

			console := ro.Console
			console.StartRun(ctx, ro.Config.Transfer.Host, ro.Config.StagingRoot)

			results, failures, err := orch.Run(ctx)
			if err != nil {
				return errors.Errorf("running cycle: %w", err)
			}

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				res := results[name]
				console.LogFileOutcome(ctx, log.FileOutcome{
					Name:    name,
					Summary: res.Summary(),
					Failed:  res.Failed(),
				})
				if !unattended {
					table, renderErr := res.Report.Render()
					if renderErr != nil {
						console.Warningf("rendering table for %s: %v", name, renderErr)
						continue
					}
					cmd.Println(table)
				}
			}
			for name, reason := range failures {
				if _, processed := results[name]; !processed {
					console.LogFileOutcome(ctx, log.FileOutcome{Name: name, Summary: reason, Failed: true})
				}
			}
			console.EndRun(ctx)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unattended, "unattended", false,
		"scheduled mode: mail failures to the administrator instead of rendering tables")
	return cmd
}

// buildOrchestrator wires the run collaborators from configuration.
func buildOrchestrator(ro *opts.RootOpts, unattended bool) (*sync.Orchestrator, error) {
	cfg := ro.Config

	tr, err := transport.New(cfg.Transfer.Protocol, cfg.Credentials())
	if err != nil {
		return nil, errors.Errorf("creating transport: %w", err)
	}

	rcOpts, err := cfg.ReconcileOptions()
	if err != nil {
		return nil, errors.Errorf("mapping import options: %w", err)
	}

	var mailer *notify.Mailer
	if len(cfg.Notify.To) > 0 {
		mailer = notify.New(cfg.Notify.Host, cfg.Notify.Port,
			cfg.Notify.Username, cfg.Notify.Password, cfg.Notify.From, cfg.Notify.To)
	}

	orch := sync.New(
		staging.New(cfg.StagingRoot),
		tr,
		directory.NewInMemory(),
		sync.Options{
			RemoteDir:  cfg.Transfer.RemoteDir,
			Patterns:   cfg.Transfer.Patterns,
			Reconcile:  rcOpts,
			Mailer:     mailer,
			Unattended: unattended,
		},
	)
	return orch, nil
}
