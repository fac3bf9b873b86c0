// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package progress

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/dyncache/internal/cachefile"
)

func TestNew_NotATerminal(t *testing.T) {
	assert.IsType(t, Nop{}, New(&bytes.Buffer{}, "x"))

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	assert.IsType(t, Nop{}, New(f, "x"))
}

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "writing", 20)

	b.Start(200)
	assert.InDelta(t, 0.0, b.Percent(), 1e-9)

	for i := 0; i < 200; i++ {
		b.Increment()
	}
	assert.InDelta(t, 1.0, b.Percent(), 1e-9)
	b.Finish()

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "writing")
	assert.Contains(t, out, "100%")
	// 0% plus one redraw per whole percent.
	assert.Equal(t, 101, strings.Count(out, "\r"))
}

func TestBar_Empty(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "reading", 10)
	b.Start(0)
	b.Finish()
	assert.InDelta(t, 1.0, b.Percent(), 1e-9)
	assert.Equal(t, 1, strings.Count(buf.String(), "\r"))
}

func TestBar_DrivesCacheWrites(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "writing", 10)

	entries := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}
	require.NoError(t, cachefile.Write(&bytes.Buffer{}, true, []byte{1}, entries, b))
	assert.InDelta(t, 1.0, b.Percent(), 1e-9)
	assert.Contains(t, buf.String(), "100%")
}
