// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the standard locations.
const FileName = "dyncache.yaml"

// PathEnv names a config file that replaces the standard lookup.
const PathEnv = "DYNCACHE_CFG"

var errNotFound = errors.New("config file not found")

// Type is a loaded config file. Namespace, when set, is tried before the
// top level: with Namespace "inspect", "inspect.output" wins over "output".
type Type struct {
	Source    string
	Namespace string
	Data      map[string]any
}

// Config is the process-wide config, loaded on first use.
var Config Type

func init() {
	_, _ = Load()
}

// Load reads the config file into Config. The optional argument sets the
// namespace.
func Load(namespace ...string) (Type, error) {
	cfg := Type{}
	if len(namespace) > 0 {
		cfg.Namespace = namespace[0]
	}

	path, err := find()
	if err != nil {
		return cfg, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg.Data); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.Source = path
	Config = cfg
	log.WithField("namespace", cfg.Namespace).Debugf("config loaded from %s", path)

	return cfg, nil
}

// get resolves a dotted key, namespaced first.
func (cfg *Type) get(key string) (any, error) {
	candidates := []string{key}
	if cfg.Namespace != "" {
		candidates = []string{cfg.Namespace + "." + key, key}
	}

	for _, candidate := range candidates {
		if v, ok := walk(cfg.Data, strings.Split(candidate, ".")); ok {
			return v, nil
		}
	}

	return nil, fmt.Errorf("no valid path found among: %v", candidates)
}

func walk(node any, path []string) (any, bool) {
	for _, segment := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = m[segment]; !ok {
			return nil, false
		}
	}
	return node, true
}

// value looks key up in Config, loading it if nothing has been loaded, and
// converts the result. A single default replaces a missing key, never a
// value of the wrong type.
func value[T any](key string, convert func(any) (T, bool), defaults []T) (T, error) {
	var zero T

	if len(Config.Data) == 0 {
		_, _ = Load(Config.Namespace)
	}

	raw, err := Config.get(key)
	if err != nil {
		if len(defaults) == 1 {
			return defaults[0], nil
		}
		return zero, err
	}

	v, ok := convert(raw)
	if !ok {
		return zero, fmt.Errorf("%s: value is not a %T", key, zero)
	}
	return v, nil
}

func GetString(key string, defaultValue ...string) (string, error) {
	return value(key, func(v any) (string, bool) {
		s, ok := v.(string)
		return s, ok
	}, defaultValue)
}

// GetInt accepts any YAML number. Fractions are truncated.
func GetInt(key string, defaultValue ...int) (int, error) {
	return value(key, func(v any) (int, bool) {
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		}
		return 0, false
	}, defaultValue)
}

func GetBool(key string, defaultValue ...bool) (bool, error) {
	return value(key, func(v any) (bool, bool) {
		b, ok := v.(bool)
		return b, ok
	}, defaultValue)
}

// GetStringSlice returns a list of strings. A scalar string is a one item
// list.
func GetStringSlice(key string) ([]string, error) {
	return value(key, func(v any) ([]string, bool) {
		switch v := v.(type) {
		case string:
			return []string{v}, true
		case []any:
			out := make([]string, len(v))
			for i, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, false
				}
				out[i] = s
			}
			return out, true
		}
		return nil, false
	}, nil)
}

// find returns the config file to load: $DYNCACHE_CFG, or the first
// dyncache.yaml in the working directory, $XDG_CONFIG_HOME, $APPDATA or
// $HOME. A project directory can carry its own cache settings that way.
func find() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", errNotFound, p)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s points to a directory: %s", PathEnv, p)
		}
		return p, nil
	}

	dirs := []string{"."}
	for _, env := range []string{"XDG_CONFIG_HOME", "APPDATA", "HOME"} {
		if d := os.Getenv(env); d != "" {
			dirs = append(dirs, d)
		}
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w in %s", errNotFound, strings.Join(dirs, ", "))
}
