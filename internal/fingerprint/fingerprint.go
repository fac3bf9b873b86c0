// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"
)

// ErrUnsupportedTarget is returned for values that are not non-nil funcs.
var ErrUnsupportedTarget = errors.New("unsupported fingerprint target")

// Flag bits recorded in Structure.Flags.
const (
	FlagVariadic uint32 = 1 << iota
	FlagClosure
	FlagMethodValue
	FlagGeneric
	FlagKeywords
)

// Fingerprint is the BLAKE2b-256 digest of a function's Structure.
type Fingerprint []byte

// String returns the hex form.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f)
}

// Short returns the first 12 hex characters, for display.
func (f Fingerprint) Short() string {
	s := f.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Equal reports whether both fingerprints hold the same bytes.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return bytes.Equal(f, other)
}

// Structure is everything about a function that goes into its fingerprint.
// Source positions are left out so that reformatting a file does not change
// the digest.
type Structure struct {
	Name     string   `msgpack:"name"`
	NumIn    int      `msgpack:"num_in"`
	NumKw    int      `msgpack:"num_kw"`
	NumOut   int      `msgpack:"num_out"`
	Params   []string `msgpack:"params"`
	Results  []string `msgpack:"results"`
	Flags    uint32   `msgpack:"flags"`
	Code     []byte   `msgpack:"code"`
	CodeSize int      `msgpack:"code_size"`
	Strategy string   `msgpack:"strategy"`
	Salt     []byte   `msgpack:"salt,omitempty"`
}

// Fingerprinter hashes functions using the Strategy it was built with.
type Fingerprinter struct {
	strategy Strategy
	salt     []byte
}

type Option func(*Fingerprinter)

// WithSalt mixes an arbitrary string into every digest. Changing the salt
// invalidates every cache built with the previous one.
func WithSalt(salt string) Option {
	return func(f *Fingerprinter) {
		if salt != "" {
			f.salt = []byte(salt)
		}
	}
}

// New returns a Fingerprinter. A nil strategy means the one Default uses.
func New(strategy Strategy, opts ...Option) *Fingerprinter {
	if strategy == nil {
		strategy = Default().Strategy()
	}
	f := &Fingerprinter{strategy: strategy}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFingerprinter = sync.OnceValue(func() *Fingerprinter {
	s, err := Detect()
	if err != nil {
		log.WithError(err).Warn("function fingerprints unavailable")
		return &Fingerprinter{strategy: unavailable{err: err}}
	}
	return &Fingerprinter{strategy: s}
})

// Default returns the process-wide Fingerprinter. Its strategy is detected
// on first use and never changes afterwards. When the executable has no
// symbol table every Of call fails with ErrUnsupportedTarget.
func Default() *Fingerprinter {
	return defaultFingerprinter()
}

// Strategy returns the inspection strategy in use.
func (f *Fingerprinter) Strategy() Strategy {
	return f.strategy
}

// Inspect returns the Structure that Of would hash.
func (f *Fingerprinter) Inspect(fn any) (Structure, error) {
	v, err := funcValue(fn)
	if err != nil {
		return Structure{}, err
	}

	st, err := f.strategy.Inspect(v)
	if err != nil {
		return Structure{}, err
	}
	st.Salt = f.salt
	return st, nil
}

// Of computes the fingerprint of fn. fn is never called.
func (f *Fingerprinter) Of(fn any) (Fingerprint, error) {
	st, err := f.Inspect(fn)
	if err != nil {
		return nil, err
	}

	return Sum(st)
}

// Sum hashes a Structure the way Of does.
func Sum(st Structure) (Fingerprint, error) {
	raw, err := msgpack.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode structure of %s: %w", st.Name, err)
	}

	sum := blake2b.Sum256(raw)
	log.WithFields(log.Fields{
		"func":     st.Name,
		"strategy": st.Strategy,
		"code":     st.CodeSize,
	}).Debugf("fingerprint %x", sum[:6])

	return Fingerprint(sum[:]), nil
}

// Name returns the qualified runtime name of fn, e.g.
// "github.com/x/y/pkg.(*T).Method-fm".
func Name(fn any) (string, error) {
	v, err := funcValue(fn)
	if err != nil {
		return "", err
	}
	return runtimeName(v), nil
}

var (
	closureRe         = regexp.MustCompile(`\.func\d+`)
	shortNameReplacer = strings.NewReplacer("(", "", ")", "", "*", "")
)

// ShortName reduces a qualified runtime name to something usable as a file
// name: "github.com/x/pkg.(*T).Area-fm" becomes "T.Area".
func ShortName(qualified string) string {
	name := qualified
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.Index(name, "["); i >= 0 {
		if j := strings.LastIndex(name, "]"); j > i {
			name = name[:i] + name[j+1:]
		}
	}
	return shortNameReplacer.Replace(name)
}

func funcValue(fn any) (reflect.Value, error) {
	if fn == nil {
		return reflect.Value{}, fmt.Errorf("%w: nil", ErrUnsupportedTarget)
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("%w: %T is not a function", ErrUnsupportedTarget, fn)
	}
	if v.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: nil %s", ErrUnsupportedTarget, v.Type())
	}
	return v, nil
}

func runtimeName(v reflect.Value) string {
	if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
		return rf.Name()
	}
	return ""
}

// signature fills the parts of a Structure that come from the function's
// type and runtime name.
func signature(v reflect.Value) Structure {
	t := v.Type()
	st := Structure{
		Name:   runtimeName(v),
		NumIn:  t.NumIn(),
		NumOut: t.NumOut(),
	}

	for i := 0; i < t.NumIn(); i++ {
		st.Params = append(st.Params, t.In(i).String())
	}
	for i := 0; i < t.NumOut(); i++ {
		st.Results = append(st.Results, t.Out(i).String())
	}

	if t.IsVariadic() {
		st.Flags |= FlagVariadic
	}
	if closureRe.MatchString(st.Name) {
		st.Flags |= FlagClosure
	}
	if strings.HasSuffix(st.Name, "-fm") {
		st.Flags |= FlagMethodValue
	}
	if strings.Contains(st.Name, "[") {
		st.Flags |= FlagGeneric
	}
	if t.NumIn() > 0 && isKeywordType(t.In(t.NumIn()-1)) {
		st.NumKw = 1
		st.Flags |= FlagKeywords
	}

	return st
}

func isKeywordType(t reflect.Type) bool {
	return t.Kind() == reflect.Map &&
		t.Key().Kind() == reflect.String &&
		t.Elem().Kind() == reflect.Interface &&
		t.Elem().NumMethod() == 0
}
