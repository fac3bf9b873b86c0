// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/meta"
	"github.com/staranto/dyncache/internal/output"
)

// InspectCommandAction shows the header of a cache file or, with --entries,
// its decoded entries.
func InspectCommandAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		if cmd.Bool("schema") {
			return dumpInspectSchema(cmd)
		}
		return fmt.Errorf("%w: inspect FILE", errUsage)
	}
	path := cmd.Args().First()

	if !cmd.Bool("entries") {
		runner := QueryActionRunner[fileRow]{
			CommandName:  "inspect",
			DefaultAttrs: []string{"name", "mode", "fingerprint:fingerprint:16", "items", "bytes:size:h", "modified"},
			FetchFn: func(context.Context, *cli.Command) ([]fileRow, error) {
				info, err := os.Stat(path)
				if err != nil {
					return nil, err
				}
				if info.IsDir() {
					return nil, fmt.Errorf("%s is a directory", path)
				}
				return []fileRow{newFileRow(path, filepath.Base(path), info.Size(), info.ModTime())}, nil
			},
		}
		return runner.Run(ctx, cmd)
	}

	runner := QueryActionRunner[entryRow]{
		CommandName:  "inspect",
		DefaultAttrs: []string{"key", "value"},
		FetchFn: func(context.Context, *cli.Command) ([]entryRow, error) {
			_, entries, err := cachefile.ReadFile(path)
			if err != nil {
				return nil, err
			}
			_, rows := displayEntries(entries)
			return rows, nil
		},
	}
	return runner.Run(ctx, cmd)
}

func dumpInspectSchema(cmd *cli.Command) error {
	t := reflect.TypeOf(fileRow{})
	if cmd.Bool("entries") {
		t = reflect.TypeOf(entryRow{})
	}
	output.DumpSchema(writer(cmd), "", t)
	return nil
}

// InspectCommandBuilder constructs the cli.Command for "inspect".
func InspectCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	qcb := QueryCommandBuilder{
		Name:      "inspect",
		Usage:     "show a cache file's header or entries",
		UsageText: `dyncache inspect FILE [options]`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "entries",
				Aliases: []string{"e"},
				Usage:   "list the memoized calls instead of the header",
			},
		},
		Action: InspectCommandAction,
		Meta:   meta,
	}
	return qcb.Build()
}
