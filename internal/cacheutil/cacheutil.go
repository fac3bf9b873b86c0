// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cacheutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/staranto/dyncache/internal/cachefile"
)

// File describes a cache file found on disk.
type File struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Dir resolves the default cache directory.
// Precedence:
//  1. DYNCACHE_DIR, if set and non-empty
//  2. the current working directory
func Dir() string {
	if c, ok := os.LookupEnv("DYNCACHE_DIR"); ok && c != "" {
		return c
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Enabled returns true unless DYNCACHE explicitly disables it ("0"/"false").
func Enabled() bool {
	enabled, _ := os.LookupEnv("DYNCACHE")
	return enabled == "" || (enabled != "0" && enabled != "false")
}

// EnsureDir creates dir if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

// List returns the cache files directly inside dir, sorted by name.
func List(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}

	var files []File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), cachefile.Extension) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.WithError(err).Debugf("skipping %s", e.Name())
			continue
		}
		files = append(files, File{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Purge removes cache files in dir older than the provided number of hours
// and returns the paths it removed. If hours <= 0 it is a no-op.
func Purge(dir string, hours int) ([]string, error) {
	if hours <= 0 {
		log.Debug("cache cleaning disabled")
		return nil, nil
	}

	files, err := List(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to purge cache: %w", err)
	}

	maxAge := time.Duration(hours) * time.Hour
	var removed []string
	for _, f := range files {
		if time.Since(f.ModTime) <= maxAge {
			continue
		}
		if err := os.Remove(f.Path); err == nil {
			log.Debugf("removed cache file %s", f.Path)
			removed = append(removed, f.Path)
		} else {
			log.WithError(err).Warnf("failed to remove cache file %s", f.Path)
		}
	}
	return removed, nil
}
