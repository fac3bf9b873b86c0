// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package differ

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name        string
		left, right map[string]any
		added       []string
		removed     []string
		changed     []string
	}{
		{
			name:  "identical",
			left:  map[string]any{"[[3,2],{}]": 4.5},
			right: map[string]any{"[[3,2],{}]": 4.5},
		},
		{
			name:  "both empty",
			left:  nil,
			right: map[string]any{},
		},
		{
			name:  "added",
			left:  map[string]any{"[[3,2],{}]": 4.5},
			right: map[string]any{"[[3,2],{}]": 4.5, "[[1,1],{}]": 1.0},
			added: []string{"[[1,1],{}]"},
		},
		{
			name:    "removed and changed",
			left:    map[string]any{"a": 1.0, "b": map[string]any{"X": 1.0}},
			right:   map[string]any{"b": map[string]any{"X": 2.0}},
			removed: []string{"a"},
			changed: []string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compare(tt.left, tt.right, false)
			require.NoError(t, err)

			assert.Equal(t, tt.added, res.Added)
			assert.Equal(t, tt.removed, res.Removed)
			assert.Equal(t, tt.changed, res.Changed)

			modified := len(tt.added)+len(tt.removed)+len(tt.changed) > 0
			assert.Equal(t, modified, res.Modified())
			if modified {
				assert.NotEmpty(t, res.Text)
			} else {
				assert.Empty(t, res.Text)
			}
		})
	}
}

func TestCompare_Text(t *testing.T) {
	res, err := Compare(
		map[string]any{"k1": 1.0, "k2": "same"},
		map[string]any{"k1": 2.0, "k2": "same"},
		false,
	)
	require.NoError(t, err)
	var minus, plus []string
	for _, line := range strings.Split(res.Text, "\n") {
		switch {
		case strings.HasPrefix(line, "-"):
			minus = append(minus, line)
		case strings.HasPrefix(line, "+"):
			plus = append(plus, line)
		}
	}
	require.Len(t, minus, 1)
	require.Len(t, plus, 1)
	assert.Contains(t, minus[0], `"k1"`)
	assert.Contains(t, plus[0], `"k1"`)
	assert.Contains(t, res.Text, `"k2"`)
}

func TestCompare_Unencodable(t *testing.T) {
	_, err := Compare(map[string]any{"c": make(chan int)}, nil, false)
	assert.Error(t, err)
}
