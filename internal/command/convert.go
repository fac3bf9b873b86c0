// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/staranto/dyncache/internal/cache"
	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/meta"
	"github.com/staranto/dyncache/internal/progress"
)

// ConvertCommandAction rewrites a cache file in another storage mode. Values
// are copied as raw msgpack and the fingerprint is kept, so the file stays
// valid for the function that wrote it.
func ConvertCommandAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("%w: convert FILE --mode MODE", errUsage)
	}
	path := cmd.Args().First()

	mode, err := cache.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}

	out := cmd.String("out")
	if out == "" {
		out = path
	}

	h, entries, err := readRaw(path)
	if err != nil {
		return err
	}

	bar := progress.New(os.Stderr, "writing")
	if err := cachefile.WriteFile(out, mode == cache.Itemwise, h.Fingerprint, entries, bar); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"from":  modeOf(h),
		"to":    mode,
		"items": len(entries),
	}).Debugf("converted %s", path)

	fmt.Fprintf(writer(cmd), "%s: %s -> %s, %d items\n", out, modeOf(h), mode, len(entries))
	return nil
}

func readRaw(path string) (cachefile.Header, map[string]msgpack.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return cachefile.Header{}, nil, err
	}
	defer f.Close()

	r := cachefile.NewReader(f, progress.New(os.Stderr, "reading"))
	h, err := r.Header()
	if err != nil {
		return h, nil, err
	}
	entries, err := cachefile.ReadEntries[msgpack.RawMessage](r)
	if err != nil {
		return h, nil, err
	}
	return h, entries, nil
}

// ConvertCommandBuilder constructs the cli.Command for "convert".
func ConvertCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	modeFlag := NewModeFlag("convert", meta.Config.Source)
	modeFlag.Required = true

	return &cli.Command{
		Name:      "convert",
		Usage:     "rewrite a cache file in another storage mode",
		UsageText: `dyncache convert FILE --mode compact|itemwise [--out FILE]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			modeFlag,
			&cli.StringFlag{
				Name:  "out",
				Usage: "write to this file instead of replacing FILE",
			},
		},
		Action: ConvertCommandAction,
	}
}
