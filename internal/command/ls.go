// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"

	"github.com/apex/log"
	"github.com/sourcegraph/conc/iter"
	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/cacheutil"
	"github.com/staranto/dyncache/internal/meta"
)

// LsCommandAction lists the cache files in DIR.
func LsCommandAction(ctx context.Context, cmd *cli.Command) error {
	runner := QueryActionRunner[fileRow]{
		CommandName:  "ls",
		DefaultAttrs: []string{"name", "mode", "items", "bytes:size:h", "modified:age:a"},
		FetchFn: func(_ context.Context, cmd *cli.Command) ([]fileRow, error) {
			dir := dirArg(cmd)
			log.Debugf("listing %s", dir)

			files, err := cacheutil.List(dir)
			if err != nil {
				return nil, err
			}

			// Each row opens its file to read the header.
			rows := iter.Map(files, func(f *cacheutil.File) fileRow {
				return newFileRow(f.Path, f.Name, f.Size, f.ModTime)
			})
			return rows, nil
		},
	}
	return runner.Run(ctx, cmd)
}

// LsCommandBuilder constructs the cli.Command for "ls".
func LsCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	qcb := QueryCommandBuilder{
		Name:      "ls",
		Usage:     "list cache files",
		UsageText: `dyncache ls [DIR] [options]`,
		Action:    LsCommandAction,
		Meta:      meta,
	}
	return qcb.Build()
}
