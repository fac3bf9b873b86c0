// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package differ compares the entries of two cache files.
package differ

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/apex/log"
	diff "github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Result summarizes a comparison. Text is the ascii rendering of the whole
// right hand document with changed lines marked + and -.
type Result struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
	Text    string   `json:"-"`
}

// Modified reports whether the two sides differ at all.
func (r Result) Modified() bool {
	return len(r.Added)+len(r.Removed)+len(r.Changed) > 0
}

// Compare diffs left against right. Both must marshal to JSON objects.
func Compare(left, right map[string]any, coloring bool) (Result, error) {
	var res Result

	for k, lv := range left {
		rv, ok := right[k]
		switch {
		case !ok:
			res.Removed = append(res.Removed, k)
		case !reflect.DeepEqual(lv, rv):
			res.Changed = append(res.Changed, k)
		}
	}
	for k := range right {
		if _, ok := left[k]; !ok {
			res.Added = append(res.Added, k)
		}
	}
	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Changed)

	a, err := marshal(left)
	if err != nil {
		return res, err
	}
	b, err := marshal(right)
	if err != nil {
		return res, err
	}

	d, err := diff.New().Compare(a, b)
	if err != nil {
		return res, fmt.Errorf("failed to compare: %w", err)
	}
	if !d.Modified() {
		log.Debug("no differences")
		return res, nil
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(a, &doc); err != nil {
		return res, err
	}

	f := formatter.NewAsciiFormatter(doc, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	})
	res.Text, err = f.Format(d)
	if err != nil {
		return res, fmt.Errorf("failed to format diff: %w", err)
	}

	return res, nil
}

func marshal(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entries: %w", err)
	}
	return b, nil
}
