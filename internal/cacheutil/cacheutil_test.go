// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package cacheutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, when, when))
}

func TestDir(t *testing.T) {
	t.Setenv("DYNCACHE_DIR", "/tmp/memo")
	assert.Equal(t, "/tmp/memo", Dir())

	t.Setenv("DYNCACHE_DIR", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, wd, Dir())
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"1", true},
		{"true", true},
		{"0", false},
		{"false", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("DYNCACHE", tt.value)
			assert.Equal(t, tt.want, Enabled())
		})
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.dyncache"), 0)
	touch(t, filepath.Join(dir, "a.dyncache"), 0)
	touch(t, filepath.Join(dir, "notes.txt"), 0)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.dyncache"), 0o755))

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.dyncache", files[0].Name)
	assert.Equal(t, "b.dyncache", files[1].Name)
	assert.Equal(t, int64(1), files[0].Size)

	_, err = List(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPurge(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "old.dyncache"), 72*time.Hour)
	touch(t, filepath.Join(dir, "new.dyncache"), time.Hour)
	touch(t, filepath.Join(dir, "old.txt"), 72*time.Hour)

	removed, err := Purge(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = Purge(dir, 24)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "old.dyncache")}, removed)

	assert.NoFileExists(t, filepath.Join(dir, "old.dyncache"))
	assert.FileExists(t, filepath.Join(dir, "new.dyncache"))
	assert.FileExists(t, filepath.Join(dir, "old.txt"))
}
