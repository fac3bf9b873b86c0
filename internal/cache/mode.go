// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"strings"
)

// Mode selects how entries are laid out in the cache file.
type Mode int

const (
	// Compact stores all entries as one map.
	Compact Mode = iota
	// Itemwise stores entries one pair at a time, which allows progress
	// reporting on large files.
	Itemwise
)

func (m Mode) String() string {
	if m == Itemwise {
		return "itemwise"
	}
	return "compact"
}

// ParseMode accepts "compact" or "itemwise", case-insensitively. An empty
// string is Compact.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compact":
		return Compact, nil
	case "itemwise":
		return Itemwise, nil
	default:
		return Compact, fmt.Errorf("unknown storage mode %q", s)
	}
}
