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

// gtafsync synchronizes user and enrolment batch files from a remote drop
// server into the user directory.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/odissea/gtafsync/cmd/gtafsync/commands"
)

func main() {
	setupLogging()

	rootCmd := &cobra.Command{
		Use:           "gtafsync",
		Short:         "Synchronize user batch files into the user directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addRootFlags(rootCmd)

	// Config is read after flag parsing, so commands receive a loader
	// instead of loaded options.
	rootCmd.AddCommand(
		commands.NewSyncCmd(newRootOpts),
		commands.NewFilesCmd(newRootOpts),
	)

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
