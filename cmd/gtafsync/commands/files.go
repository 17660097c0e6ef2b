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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"

	"github.com/odissea/gtafsync/pkg/staging"
)

// NewFilesCmd creates the files command group: list, restore, delete.
func NewFilesCmd(load OptsLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect and manage staged batch files",
	}
	cmd.AddCommand(
		newFilesListCmd(load),
		newFilesRestoreCmd(load),
		newFilesDeleteCmd(load),
	)
	return cmd
}

func newFilesListCmd(load OptsLoader) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending and backup files, or the remote drop directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := zerolog.Ctx(cmd.Context()).With().Str("command", "files list").Logger().WithContext(cmd.Context())

			ro, err := load(ctx)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(ro, false)
			if err != nil {
				return err
			}

			if remote {
				names, err := orch.ListRemote(ctx)
				if err != nil {
					return errors.Errorf("listing remote files: %w", err)
				}
				printFileList(cmd, "remote", names)
				return nil
			}

			// The listings need the directories in place.
			area := staging.New(ro.Config.StagingRoot)
			if err := area.EnsureDirectories(ctx); err != nil {
				return errors.Errorf("preparing staging area: %w", err)
			}

			pending, err := area.ListPending(ctx)
			if err != nil {
				return errors.Errorf("listing pending files: %w", err)
			}
			printFileList(cmd, "pending", pending)

			backup, err := area.ListBackup(ctx)
			if err != nil {
				return errors.Errorf("listing backup files: %w", err)
			}
			printFileList(cmd, "backup", backup)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "list the remote drop directory instead")
	return cmd
}

func printFileList(cmd *cobra.Command, label string, names []string) {
	cmd.Printf("%s (%d):\n", label, len(names))
	for _, name := range names {
		cmd.Printf("  %s\n", name)
	}
}

func newFilesRestoreCmd(load OptsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Copy a backup file back into pending for reprocessing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ro, err := load(ctx)
			if err != nil {
				return err
			}
			area := staging.New(ro.Config.StagingRoot)
			if err := area.EnsureDirectories(ctx); err != nil {
				return errors.Errorf("preparing staging area: %w", err)
			}
			if err := area.Restore(ctx, args[0]); err != nil {
				return errors.Errorf("restoring %s: %w", args[0], err)
			}
			ro.Console.Successf("restored %s to pending", args[0])
			return nil
		},
	}
}

func newFilesDeleteCmd(load OptsLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>",
		Short: "Remove a file from pending without processing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			ro, err := load(ctx)
			if err != nil {
				return err
			}
			area := staging.New(ro.Config.StagingRoot)
			if err := area.EnsureDirectories(ctx); err != nil {
				return errors.Errorf("preparing staging area: %w", err)
			}
			if err := area.Discard(ctx, args[0]); err != nil {
				return errors.Errorf("deleting %s: %w", args[0], err)
			}
			ro.Console.Successf("deleted %s from pending", args[0])
			return nil
		},
	}
}
