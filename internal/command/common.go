// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/attrs"
	"github.com/staranto/dyncache/internal/cache"
	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/fingerprint"
	"github.com/staranto/dyncache/internal/meta"
	"github.com/staranto/dyncache/internal/output"
)

// fileRow describes one cache file.
type fileRow struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Mode        string `json:"mode"`
	Fingerprint string `json:"fingerprint"`
	Items       uint32 `json:"items"`
	Bytes       int64  `json:"bytes"`
	Modified    string `json:"modified"`
}

// entryRow describes one memoized call.
type entryRow struct {
	Key    string         `json:"key"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
	Value  any            `json:"value"`
}

// newFileRow fills a fileRow from the file's header. Unreadable headers
// leave mode and fingerprint as "?".
func newFileRow(path, name string, size int64, modified time.Time) fileRow {
	row := fileRow{
		Name:        name,
		Path:        path,
		Mode:        "?",
		Fingerprint: "?",
		Bytes:       size,
		Modified:    modified.UTC().Format(time.RFC3339),
	}

	h, err := readHeader(path)
	if err != nil {
		log.WithError(err).Warnf("unreadable cache file %s", path)
		return row
	}

	row.Mode = modeOf(h).String()
	row.Fingerprint = fingerprint.Fingerprint(h.Fingerprint).String()
	row.Items = h.Count
	return row
}

func readHeader(path string) (cachefile.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return cachefile.Header{}, err
	}
	defer f.Close()
	return cachefile.NewReader(f, nil).Header()
}

func modeOf(h cachefile.Header) cache.Mode {
	if h.Itemwise {
		return cache.Itemwise
	}
	return cache.Compact
}

// displayEntries turns raw cache keys into readable ones, the JSON form of
// [args, kwargs].
func displayEntries(entries map[string]any) (map[string]any, []entryRow) {
	display := make(map[string]any, len(entries))
	rows := make([]entryRow, 0, len(entries))

	for raw, value := range entries {
		args, kwargs, err := cache.DecodeKey(raw)
		if err != nil {
			log.WithError(err).Debug("undecodable key")
			key := fmt.Sprintf("%x", raw)
			display[key] = value
			rows = append(rows, entryRow{Key: key, Value: value})
			continue
		}

		b, err := json.Marshal([]any{args, kwargs})
		key := string(b)
		if err != nil {
			key = fmt.Sprintf("%v %v", args, kwargs)
		}
		display[key] = value
		rows = append(rows, entryRow{Key: key, Args: args, Kwargs: kwargs, Value: value})
	}

	return display, rows
}

// DumpSchemaIfRequested prints the attributes of the provided type when
// --schema is set, and returns true if it handled the request.
func DumpSchemaIfRequested(cmd *cli.Command, t reflect.Type) bool {
	if cmd.Bool("schema") {
		output.DumpSchema(writer(cmd), "", t)
		return true
	}
	return false
}

// BuildAttrs constructs an AttrList with defaults and optional extras from
// --attrs.
func BuildAttrs(cmd *cli.Command, defaults ...string) (al attrs.AttrList, err error) {
	for _, d := range defaults {
		if err = al.Set(d); err != nil {
			return nil, err
		}
	}
	if extras := cmd.String("attrs"); extras != "" {
		if err = al.Set(extras); err != nil {
			return nil, fmt.Errorf("--attrs: %w", err)
		}
	}
	return al, nil
}

// GetMeta returns the meta.Meta stored in the command's Metadata. If missing
// or of an unexpected type, it returns the zero value.
func GetMeta(cmd *cli.Command) meta.Meta {
	if cmd == nil || cmd.Metadata == nil {
		return meta.Meta{}
	}
	if m, ok := cmd.Metadata["meta"].(meta.Meta); ok {
		return m
	}
	return meta.Meta{}
}

// writer is where command output goes, the root command's Writer.
func writer(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

// dirArg returns the optional DIR argument, falling back to the cache dir.
func dirArg(cmd *cli.Command) string {
	if dir := cmd.Args().First(); dir != "" {
		return dir
	}
	if dir := GetMeta(cmd).CacheDir; dir != "" {
		return dir
	}
	return "."
}

var errUsage = errors.New("wrong number of arguments")

// QueryCommandBuilder constructs a cli.Command for the listing subcommands
// (inspect, ls) using a consistent pattern. The builder wires metadata, adds
// the schema flag, applies global flags, and sets up validators.
type QueryCommandBuilder struct {
	Name      string
	Usage     string
	UsageText string
	Flags     []cli.Flag
	Action    func(context.Context, *cli.Command) error
	Meta      meta.Meta
}

// Build returns a configured cli.Command from the builder.
func (qcb *QueryCommandBuilder) Build() *cli.Command {
	return &cli.Command{
		Name:      qcb.Name,
		Usage:     qcb.Usage,
		UsageText: qcb.UsageText,
		Metadata: map[string]any{
			"meta": qcb.Meta,
		},
		Flags: append(qcb.Flags, append([]cli.Flag{
			schemaFlag,
		}, NewGlobalFlags(qcb.Name)...)...),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, c)
		},
		Action: qcb.Action,
	}
}

// QueryActionRunner[T] encapsulates the common listing pattern: schema
// short-circuit, attrs, fetch, emit. FetchFn supplies the rows.
type QueryActionRunner[T any] struct {
	CommandName  string
	DefaultAttrs []string
	FetchFn      func(context.Context, *cli.Command) ([]T, error)
}

// Run executes the query action with the provided context and command.
func (qar *QueryActionRunner[T]) Run(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args)

	if DumpSchemaIfRequested(cmd, reflect.TypeOf((*T)(nil)).Elem()) {
		return nil
	}

	al, err := BuildAttrs(cmd, qar.DefaultAttrs...)
	if err != nil {
		return err
	}
	log.Debugf("attrs: %v", al.String())

	results, err := qar.FetchFn(ctx, cmd)
	if err != nil {
		return err
	}

	return output.SliceDiceSpit(results, al, output.OptionsFromCommand(cmd), writer(cmd))
}
