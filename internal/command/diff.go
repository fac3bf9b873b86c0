// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/differ"
	"github.com/staranto/dyncache/internal/fingerprint"
	"github.com/staranto/dyncache/internal/meta"
)

// DiffCommandAction compares the entries of two cache files.
func DiffCommandAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 2 { //nolint:mnd
		return fmt.Errorf("%w: diff A B", errUsage)
	}
	a, b := cmd.Args().Get(0), cmd.Args().Get(1)

	ha, ea, err := cachefile.ReadFile(a)
	if err != nil {
		return fmt.Errorf("%s: %w", a, err)
	}
	hb, eb, err := cachefile.ReadFile(b)
	if err != nil {
		return fmt.Errorf("%s: %w", b, err)
	}

	w := writer(cmd)

	fa, fb := fingerprint.Fingerprint(ha.Fingerprint), fingerprint.Fingerprint(hb.Fingerprint)
	if !fa.Equal(fb) {
		fmt.Fprintf(w, "fingerprint %s != %s\n", fa.Short(), fb.Short())
	}
	if ha.Itemwise != hb.Itemwise {
		fmt.Fprintf(w, "mode %s != %s\n", modeOf(ha), modeOf(hb))
	}

	left, _ := displayEntries(ea)
	right, _ := displayEntries(eb)

	res, err := differ.Compare(left, right, cmd.Bool("color"))
	if err != nil {
		return err
	}
	log.Debugf("diff: %+v", res)

	if !res.Modified() {
		fmt.Fprintln(w, "entries are identical")
		return nil
	}

	if cmd.Bool("summary") {
		fmt.Fprintf(w, "%d added, %d removed, %d changed\n", len(res.Added), len(res.Removed), len(res.Changed))
		return nil
	}
	fmt.Fprint(w, res.Text)
	return nil
}

// DiffCommandBuilder constructs the cli.Command for "diff".
func DiffCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "compare the entries of two cache files",
		UsageText: `dyncache diff A B [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			&cli.BoolWithInverseFlag{
				Name:    "color",
				Aliases: []string{"c"},
				Usage:   "enable colored diff output",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "only print counts of added, removed and changed entries",
			},
		},
		Action: DiffCommandAction,
	}
}
