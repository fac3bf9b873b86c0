// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package filters

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"

	"github.com/staranto/dyncache/internal/attrs"
)

// Op is the comparison in a filter term.
type Op byte

const (
	Equal    Op = '='
	Fold     Op = '~'
	Prefix   Op = '^'
	Greater  Op = '>'
	Less     Op = '<'
	Contains Op = '@'
	Regexp   Op = '/'
)

// DelimEnv overrides the "," between filter terms.
const DelimEnv = "DYNCACHE_FILTER_DELIM"

// term is key, optional "!", op, target. The key is matched lazily so the
// first operator character ends it.
var term = regexp.MustCompile(`^(.*?)(!?)([=~^<>@/])(.*)$`)

// Filter is one parsed --filter term, e.g. "items>10" or "args!@3".
type Filter struct {
	Key    string
	Negate bool
	Op     Op
	Target string

	// number is Target as a number, when it reads as one. Byte sizes such as
	// "1MB" count.
	number   float64
	isNumber bool
	re       *regexp.Regexp
}

// Parse splits spec into filters. Any malformed term fails the whole spec.
func Parse(spec string) ([]Filter, error) {
	if spec == "" {
		return nil, nil
	}

	delim := ","
	if d, ok := os.LookupEnv(DelimEnv); ok && d != "" {
		delim = d
	}

	var out []Filter
	for _, raw := range strings.Split(spec, delim) {
		m := term.FindStringSubmatch(raw)
		if m == nil || m[1] == "" {
			return nil, fmt.Errorf("invalid filter %q", raw)
		}

		f := Filter{Key: m[1], Negate: m[2] == "!", Op: Op(m[3][0]), Target: m[4]}
		if f.Op == Regexp {
			re, err := regexp.Compile(f.Target)
			if err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", raw, err)
			}
			f.re = re
		}
		f.number, f.isNumber = parseNumber(f.Target)

		out = append(out, f)
	}

	return out, nil
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n, true
	}
	if strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) != 0 {
		return 0, false
	}
	if n, err := humanize.ParseBytes(s); err == nil {
		return float64(n), true
	}
	return 0, false
}

// Match reports whether v passes the filter. Missing and null values never
// pass, negated or not.
func (f Filter) Match(v gjson.Result) bool {
	if !v.Exists() || v.Type == gjson.Null {
		return false
	}
	return f.test(v) != f.Negate
}

func (f Filter) test(v gjson.Result) bool {
	switch {
	case v.IsArray():
		// A list passes when any element does, so "args@3" and "args>3" both
		// look inside.
		for _, item := range v.Array() {
			if item.IsArray() || item.IsObject() {
				continue
			}
			if f.test(item) {
				return true
			}
		}
		return false

	case v.IsObject():
		if f.Op != Contains {
			log.WithField("key", f.Key).Debugf("op %c does not apply to objects", f.Op)
			return false
		}
		_, ok := v.Map()[f.Target]
		return ok

	case v.Type == gjson.Number && f.isNumber:
		switch f.Op {
		case Equal:
			return v.Float() == f.number
		case Greater:
			return v.Float() > f.number
		case Less:
			return v.Float() < f.number
		}
	}

	return f.compare(v.String())
}

func (f Filter) compare(s string) bool {
	switch f.Op {
	case Equal:
		return s == f.Target
	case Fold:
		return strings.EqualFold(s, f.Target)
	case Prefix:
		return strings.HasPrefix(s, f.Target)
	case Greater:
		return s > f.Target
	case Less:
		return s < f.Target
	case Contains:
		return strings.Contains(s, f.Target)
	case Regexp:
		return f.re != nil && f.re.MatchString(s)
	}
	return false
}

// FilterDataset returns the rows of candidates, a JSON array of objects, that
// pass every filter in spec. Each row is cut down to the attrs, keyed by
// OutputKey. Filter keys name an OutputKey; unknown keys are ignored with a
// warning.
func FilterDataset(candidates gjson.Result, attrList attrs.AttrList, spec string) ([]map[string]any, error) {
	parsed, err := Parse(spec)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(parsed))
	active := make([]Filter, 0, len(parsed))
	for _, f := range parsed {
		path := ""
		for _, attr := range attrList {
			if attr.OutputKey == f.Key {
				path = attr.Key
				break
			}
		}
		if path == "" {
			log.Warnf("filter key not found: %s", f.Key)
			fmt.Fprintf(os.Stderr, "warning: filter key not found: %s\n", f.Key)
			continue
		}
		paths = append(paths, path)
		active = append(active, f)
	}

	var rows []map[string]any
	for _, candidate := range candidates.Array() {
		keep := true
		for i, f := range active {
			if !f.Match(candidate.Get(paths[i])) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}

		row := make(map[string]any, len(attrList))
		for _, attr := range attrList {
			row[attr.OutputKey] = candidate.Get(attr.Key).Value()
		}
		rows = append(rows, row)
	}

	return rows, nil
}
