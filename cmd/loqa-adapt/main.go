/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions holds the persistent flags shared by every sub-command
type rootOptions struct {
	configPath  string
	jsonOutput  bool
	showMetrics bool
	noColor     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "loqa-adapt",
		Short: "Per-user adaptive learning for speech-to-text",
		Long: `loqa-adapt learns each user's terminology from their corrections and
uses it to prime speech-to-text, while tracking a compact voice profile.

Configuration comes from defaults, an optional YAML file (--config or
$LOQA_CONFIG) and environment variables, in that order of precedence.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (default $LOQA_CONFIG)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	flags.BoolVar(&opts.showMetrics, "metrics", false, "print collected metrics on exit")
	flags.BoolVar(&opts.noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	root.AddCommand(
		newTranscribeCmd(opts),
		newCorrectCmd(opts),
		newSuggestCmd(opts),
		newStatsCmd(opts),
		newResetCmd(opts),
		newUsersCmd(opts),
		newVoiceIDCmd(opts),
		newBlacklistCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
	)

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		newPrinter(root.ErrOrStderr(), os.Getenv("NO_COLOR") != "").errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
