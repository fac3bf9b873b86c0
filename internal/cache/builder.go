// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"

	"github.com/apex/log"

	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/config"
	"github.com/staranto/dyncache/internal/fingerprint"
)

// DefaultNamespace is the config file section read by FromConfig("").
const DefaultNamespace = "cache"

// Builder accumulates a Config. The zero value is not usable, use
// NewBuilder.
type Builder struct {
	cfg      Config
	strategy fingerprint.Strategy
	salt     string
	err      error
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Root(root string) *Builder {
	b.cfg.Root = root
	return b
}

func (b *Builder) Filename(name string) *Builder {
	b.cfg.Filename = name
	return b
}

func (b *Builder) Mode(mode Mode) *Builder {
	b.cfg.Mode = mode
	return b
}

func (b *Builder) AutoPersist(on bool) *Builder {
	b.cfg.AutoPersist = on
	return b
}

func (b *Builder) Progress(p cachefile.Progress) *Builder {
	b.cfg.Progress = p
	return b
}

// Fingerprinter replaces the fingerprinter outright. SignatureOnly and a
// configured salt are ignored once it is set.
func (b *Builder) Fingerprinter(fp *fingerprint.Fingerprinter) *Builder {
	b.cfg.Fingerprinter = fp
	return b
}

// SignatureOnly fingerprints by name and signature instead of machine code.
// It works in stripped binaries and under "go run", but a changed body
// keeps serving the old results until the signature or salt changes.
func (b *Builder) SignatureOnly() *Builder {
	b.strategy = fingerprint.SignatureStrategy{}
	return b
}

// FromConfig reads root, filename, mode, autopersist, salt and strategy
// from the given config file section. Missing keys leave the current value alone.
func (b *Builder) FromConfig(namespace string) *Builder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	key := func(k string) string { return namespace + "." + k }

	if v, err := config.GetString(key("root")); err == nil {
		b.cfg.Root = v
	}
	if v, err := config.GetString(key("filename")); err == nil {
		b.cfg.Filename = v
	}
	if v, err := config.GetString(key("mode")); err == nil {
		mode, err := ParseMode(v)
		if err != nil {
			b.err = fmt.Errorf("config %s: %w", key("mode"), err)
			return b
		}
		b.cfg.Mode = mode
	}
	if v, err := config.GetBool(key("autopersist")); err == nil {
		b.cfg.AutoPersist = v
	}
	if v, err := config.GetString(key("salt")); err == nil {
		b.salt = v
	}
	if v, err := config.GetString(key("strategy")); err == nil {
		switch v {
		case "signature":
			b.SignatureOnly()
		case "executable", "":
			b.strategy = nil
		default:
			b.err = fmt.Errorf("config %s: must be one of [executable signature]", key("strategy"))
			return b
		}
	}

	log.WithField("namespace", namespace).Debugf("cache config %+v", b.cfg)
	return b
}

// Config returns the accumulated configuration.
func (b *Builder) Config() (Config, error) {
	cfg := b.cfg
	if cfg.Fingerprinter == nil && (b.strategy != nil || b.salt != "") {
		cfg.Fingerprinter = fingerprint.New(b.strategy, fingerprint.WithSalt(b.salt))
	}
	return cfg, b.err
}

// Build returns an engine bound to fn.
func Build[R any](b *Builder, fn any) (*Engine[R], error) {
	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}

	e := New[R](cfg)
	if err := e.Bind(fn); err != nil {
		return nil, err
	}
	return e, nil
}
