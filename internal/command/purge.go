// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/cacheutil"
	"github.com/staranto/dyncache/internal/config"
	"github.com/staranto/dyncache/internal/meta"
)

// PurgeCommandAction removes stale cache files from DIR.
func PurgeCommandAction(ctx context.Context, cmd *cli.Command) error {
	hours := cmd.Int("hours")
	if hours <= 0 {
		return fmt.Errorf("purge needs --hours, or cache.clean in %s", config.FileName)
	}

	removed, err := cacheutil.Purge(dirArg(cmd), hours)
	if err != nil {
		return err
	}

	w := writer(cmd)
	for _, path := range removed {
		fmt.Fprintln(w, path)
	}
	return nil
}

// PurgeCommandBuilder constructs the cli.Command for "purge".
func PurgeCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "remove cache files older than --hours",
		UsageText: `dyncache purge [DIR] --hours N`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			NewHoursFlag(meta.Config.Source),
		},
		Action: PurgeCommandAction,
	}
}
