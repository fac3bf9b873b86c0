// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"fmt"
	"os"
	"reflect"

	"github.com/apex/log"
)

// Strategy extracts a Structure from a function value. Implementations only
// inspect; they never call the function.
type Strategy interface {
	Name() string
	Inspect(fn reflect.Value) (Structure, error)
}

// SignatureStrategy uses the function's type and qualified name only. It
// cannot see changes to a function body that keep the signature, so it is
// never picked automatically. Callers that accept that opt in with
// New(SignatureStrategy{}).
type SignatureStrategy struct{}

func (SignatureStrategy) Name() string { return "signature" }

func (s SignatureStrategy) Inspect(fn reflect.Value) (Structure, error) {
	st := signature(fn)
	st.Strategy = s.Name()
	return st, nil
}

// unavailable is the strategy of a process whose executable has no usable
// symbol table, e.g. "go run" or -ldflags=-s builds. Every inspection fails.
type unavailable struct {
	err error
}

func (unavailable) Name() string { return "unavailable" }

func (s unavailable) Inspect(fn reflect.Value) (Structure, error) {
	return Structure{}, fmt.Errorf("%w: %s: %w", ErrUnsupportedTarget, runtimeName(fn), s.err)
}

// Detect opens the running executable for ExecutableStrategy. Call it once
// at startup and hand the result to New. It fails when the binary carries no
// symbol table.
func Detect() (Strategy, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate executable: %w", err)
	}

	s, err := OpenExecutable(exe)
	if err != nil {
		return nil, fmt.Errorf("cannot read executable symbols, build without -ldflags=-s and not with go run: %w", err)
	}

	log.Debugf("fingerprinting machine code from %s (%d functions)", exe, s.Len())
	return s, nil
}
