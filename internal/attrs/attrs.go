// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package attrs

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/staranto/dyncache/internal/config"
)

// Attr is one output column. Key is a gjson path into each row, so nested
// values such as "value.X" can be selected.
type Attr struct {
	// The path to extract from the row.
	Key string `yaml:"key"`
	// Should this Attr be included in output or is it just intended for
	// filtering and sorting?
	Include bool `yaml:"include"`
	// The key to use in the output. This is also the column title when
	// output=text.
	OutputKey string `yaml:"outputKey"`
	// Transformation spec to apply to the output value.
	TransformSpec string `yaml:"transformSpec"`
}

var lengthRe = regexp.MustCompile(`-?\d+`)

// Transform renders value according to the TransformSpec. The spec letters
// are:
//
//	h    byte count as a human size, "2.0 kB"
//	a    RFC3339 timestamp as an age, "3 hours ago"
//	t    RFC3339 timestamp in the configured timezone
//	l u  lower or upper case; the later letter wins
//	N    keep the first N characters, -N keeps both ends around ".."
//
// Values that a letter does not apply to pass through it untouched.
func (a *Attr) Transform(value any) any {
	spec := a.TransformSpec
	if spec == "" {
		return value
	}

	if strings.ContainsAny(spec, "hH") {
		if n, ok := value.(float64); ok && n >= 0 {
			value = humanize.Bytes(uint64(n))
		}
	}

	s, ok := value.(string)
	if !ok {
		return value
	}

	switch {
	case strings.ContainsAny(spec, "aA"):
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			s = humanize.Time(ts)
		}
	case strings.ContainsAny(spec, "tT"):
		s = inZone(s)
	}

	s = foldCase(s, spec)
	return clip(s, spec)
}

// inZone moves an RFC3339 timestamp into the timezone config key, or TZ.
// Without either the timestamp is returned as is.
func inZone(s string) string {
	tz, _ := config.GetString("timezone", "")
	if tz == "" {
		tz = os.Getenv("TZ")
	}
	if tz == "" {
		return s
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.WithError(err).Debugf("unknown timezone %s", tz)
		return s
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		log.Debugf("not a timestamp: %s", s)
		return s
	}
	return ts.In(loc).Format("2006-01-02T15:04:05MST")
}

// foldCase applies the last of l/L or u/U in spec, so "*::U,key::l" lower
// cases key.
func foldCase(s, spec string) string {
	lower := strings.LastIndexAny(spec, "lL")
	upper := strings.LastIndexAny(spec, "uU")
	switch {
	case lower > upper:
		return strings.ToLower(s)
	case upper > lower:
		return strings.ToUpper(s)
	}
	return s
}

// clip applies the last length in spec.
func clip(s, spec string) string {
	lengths := lengthRe.FindAllString(spec, -1)
	if len(lengths) == 0 {
		return s
	}

	n, _ := strconv.Atoi(lengths[len(lengths)-1])
	if n >= 0 {
		if len(s) > n {
			return s[:n]
		}
		return s
	}

	n = -n
	if len(s) <= n {
		return s
	}
	side := max(n/2-1, 1)
	return s[:side] + ".." + s[len(s)-side:]
}

type AttrList []Attr

// String returns the list in the same form the --attrs flag accepts.
func (a *AttrList) String() string {
	result := make([]string, 0, len(*a))
	for _, attr := range *a {
		result = append(result, fmt.Sprintf("%s:%s:%s", attr.Key, attr.OutputKey, attr.TransformSpec))
	}
	return strings.Join(result, ",")
}

// Set parses a --attrs value and merges it into the list.
func (a *AttrList) Set(value string) error {
	if value == "" || value == "*" {
		return nil
	}

	const (
		keyIdx = iota
		outputIdx
		transformIdx
	)

	// Each spec is key[:output[:transform]]. The output key defaults to the
	// last segment of the key.
	specs := strings.Split(value, ",")
specloop:
	for _, spec := range specs {
		attr := Attr{
			Include: true,
		}

		fields := strings.Split(spec, ":")
		if len(fields) > 3 { //nolint:mnd
			return fmt.Errorf("invalid attr spec: %s", spec)
		}

		// A leading ! keeps the column for filtering and sorting only.
		attr.Key = strings.TrimSpace(fields[keyIdx])
		if strings.HasPrefix(attr.Key, "!") {
			attr.Include = false
			attr.Key = attr.Key[1:]
		}
		if attr.Key == "" {
			return fmt.Errorf("invalid attr spec: %s", spec)
		}

		if attr.Key == "*" {
			attr.Include = false
		}

		if len(fields) == 1 || fields[outputIdx] == "" {
			segments := strings.Split(attr.Key, ".")
			attr.OutputKey = segments[len(segments)-1]
		} else {
			attr.OutputKey = strings.TrimSpace(fields[outputIdx])
		}

		if len(fields) > transformIdx {
			attr.TransformSpec = strings.TrimSpace(fields[transformIdx])
		}

		// An attr that is already in the list (a command default or a
		// repeat) is updated in place.
		for i := range *a {
			if (*a)[i].Key == attr.Key || (*a)[i].OutputKey == attr.Key {
				(*a)[i].Include = attr.Include
				(*a)[i].OutputKey = attr.OutputKey
				(*a)[i].TransformSpec = attr.TransformSpec
				continue specloop
			}
		}

		*a = append(*a, attr)
	}

	return nil
}

// SetGlobalTransformSpec prepends the transform spec of the "*" attr, if
// any, to every attr in the list.
func (a *AttrList) SetGlobalTransformSpec() error {
	spec := ""

	// Only the first global spec is honored.
	for i := range *a {
		if (*a)[i].Key == "*" {
			spec = (*a)[i].TransformSpec
			break
		}
	}

	if spec == "" {
		return nil
	}

	for i := range *a {
		if (*a)[i].Key == "*" {
			continue
		}
		(*a)[i].TransformSpec = spec + "," + (*a)[i].TransformSpec
	}

	return nil
}

func (a *AttrList) Type() string {
	return "list"
}

// Included returns the attrs that are rendered as columns.
func (a AttrList) Included() AttrList {
	var out AttrList
	for _, attr := range a {
		if attr.Include {
			out = append(out, attr)
		}
	}
	return out
}
