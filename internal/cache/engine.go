// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"

	"github.com/apex/log"

	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/cacheutil"
	"github.com/staranto/dyncache/internal/fingerprint"
)

// Config holds everything an Engine needs before it is bound.
type Config struct {
	// Root is the directory holding the cache file. Empty means
	// cacheutil.Dir().
	Root string
	// Filename defaults to the function's short name plus ".dyncache".
	Filename string
	Mode     Mode
	// AutoPersist rewrites the file after every miss.
	AutoPersist bool
	// Progress is told about itemwise reads and writes. May be nil.
	Progress cachefile.Progress
	// Fingerprinter defaults to fingerprint.Default().
	Fingerprinter *fingerprint.Fingerprinter
}

// Stats counts lookups since the engine was bound.
type Stats struct {
	Hits   int
	Misses int
}

// Engine memoizes one function whose first result is of type R.
type Engine[R any] struct {
	cfg Config

	fn       reflect.Value
	name     string
	kwType   reflect.Type
	hasError bool
	keys     keyEncoder

	fingerprint fingerprint.Fingerprint
	loadedFP    fingerprint.Fingerprint
	path        string
	mode        Mode
	entries     map[string]R
	disabled    bool
	stats       Stats
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// New returns an unbound engine.
func New[R any](cfg Config) *Engine[R] {
	if cfg.Fingerprinter == nil {
		cfg.Fingerprinter = fingerprint.Default()
	}
	return &Engine[R]{cfg: cfg, mode: cfg.Mode}
}

// Memoize binds fn with the default configuration and auto-persist on.
func Memoize[R any](fn any) (*Engine[R], error) {
	return Build[R](NewBuilder().AutoPersist(true), fn)
}

// Bind attaches fn to the engine. It may be called once.
func (e *Engine[R]) Bind(fn any) error {
	if e.fn.IsValid() {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, e.name)
	}

	v := reflect.ValueOf(fn)
	if fn == nil || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: %T is not a function", ErrInvalidTarget, fn)
	}

	t := v.Type()
	rType := reflect.TypeOf((*R)(nil)).Elem()
	switch {
	case t.NumOut() == 1:
	case t.NumOut() == 2 && t.Out(1) == errorType:
		e.hasError = true
	default:
		return fmt.Errorf("%w: %s must return (%s) or (%s, error)", ErrInvalidTarget, t, rType, rType)
	}
	if !t.Out(0).AssignableTo(rType) {
		return fmt.Errorf("%w: %s result is not assignable to %s", ErrInvalidTarget, t, rType)
	}

	if n := t.NumIn(); n > 0 && !t.IsVariadic() && isKwargs(t.In(n-1)) {
		e.kwType = t.In(n - 1)
	}

	sum, err := e.cfg.Fingerprinter.Of(fn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	name, _ := fingerprint.Name(fn)

	root := e.cfg.Root
	if root == "" {
		root = cacheutil.Dir()
	}
	filename := e.cfg.Filename
	if filename == "" {
		filename = fingerprint.ShortName(name) + cachefile.Extension
	}

	e.fn = v
	e.name = name
	e.fingerprint = sum
	e.keys = keyEncoder{fp: e.cfg.Fingerprinter}
	e.path = filepath.Join(root, filename)
	e.disabled = !cacheutil.Enabled()

	log.WithFields(log.Fields{
		"func":        name,
		"path":        e.path,
		"fingerprint": sum.Short(),
	}).Debug("cache bound")

	return nil
}

// Call invokes the function with positional arguments only.
func (e *Engine[R]) Call(args ...any) (R, error) {
	return e.Invoke(args, nil)
}

// Invoke returns the memoized result for args and kwargs, calling the
// function on a miss. Errors returned by the function are passed through and
// nothing is stored.
func (e *Engine[R]) Invoke(args []any, kwargs Kwargs) (R, error) {
	var zero R
	if !e.fn.IsValid() {
		return zero, ErrUnbound
	}

	in, err := e.arguments(args, kwargs)
	if err != nil {
		return zero, err
	}

	if e.disabled {
		return e.call(in, kwargs)
	}

	if e.entries == nil {
		e.startEmpty(e.Load())
	}

	positional := in
	if e.kwType != nil {
		positional = in[:len(in)-1]
	}
	key, err := e.keys.encode(positional, kwargs)
	if err != nil {
		return zero, err
	}

	if v, ok := e.entries[key]; ok {
		e.stats.Hits++
		return v, nil
	}
	e.stats.Misses++

	v, err := e.call(in, kwargs)
	if err != nil {
		return zero, err
	}
	e.entries[key] = v

	if e.cfg.AutoPersist {
		if err := e.Persist(); err != nil {
			return v, err
		}
	}
	return v, nil
}

// startEmpty replaces a failed load with an empty mapping for the current
// fingerprint.
func (e *Engine[R]) startEmpty(err error) {
	if err == nil {
		return
	}

	l := log.WithError(err).WithField("path", e.path)
	switch {
	case errors.Is(err, ErrCacheNotFound), errors.Is(err, ErrCacheIsDirectory), errors.Is(err, ErrFingerprintMismatch):
		l.Debug("starting empty cache")
	default:
		l.Warn("discarding unreadable cache")
	}

	e.entries = map[string]R{}
	e.loadedFP = e.fingerprint
}

// Load reads the cache file. On success the file's mapping and storage mode
// replace the engine's.
func (e *Engine[R]) Load() error {
	if !e.fn.IsValid() {
		return ErrUnbound
	}

	info, err := os.Stat(e.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrCacheNotFound, e.path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrCacheIsDirectory, e.path)
	}

	f, err := os.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := cachefile.NewReader(f, e.cfg.Progress)
	h, err := r.Header()
	if err != nil {
		return err
	}
	if !e.fingerprint.Equal(h.Fingerprint) {
		return fmt.Errorf("%w: file %s, function %s", ErrFingerprintMismatch,
			fingerprint.Fingerprint(h.Fingerprint).Short(), e.fingerprint.Short())
	}

	entries, err := cachefile.ReadEntries[R](r)
	if err != nil {
		return err
	}

	e.entries = entries
	e.loadedFP = h.Fingerprint
	e.mode = Compact
	if h.Itemwise {
		e.mode = Itemwise
	}

	log.WithFields(log.Fields{
		"path":  e.path,
		"items": len(entries),
		"mode":  e.mode,
	}).Debug("cache loaded")

	return nil
}

// Persist writes the mapping to disk. An engine that has not loaded yet
// loads first so an existing file is not replaced by an empty mapping.
func (e *Engine[R]) Persist() error {
	if !e.fn.IsValid() {
		return ErrUnbound
	}
	if e.entries == nil {
		e.startEmpty(e.Load())
	}

	if err := cacheutil.EnsureDir(filepath.Dir(e.path)); err != nil {
		return err
	}
	if err := cachefile.WriteFile(e.path, e.mode == Itemwise, e.fingerprint, e.entries, e.cfg.Progress); err != nil {
		return err
	}
	e.loadedFP = e.fingerprint

	log.WithFields(log.Fields{
		"path":  e.path,
		"items": len(e.entries),
		"mode":  e.mode,
	}).Debug("cache persisted")

	return nil
}

// PersistAs switches the storage mode and persists.
func (e *Engine[R]) PersistAs(mode Mode) error {
	if !e.fn.IsValid() {
		return ErrUnbound
	}
	if e.entries == nil {
		e.startEmpty(e.Load())
	}
	e.mode = mode
	return e.Persist()
}

// Func adapts the engine to a plain function.
func (e *Engine[R]) Func() func(args ...any) (R, error) {
	return e.Call
}

func (e *Engine[R]) Path() string { return e.path }

func (e *Engine[R]) Mode() Mode { return e.mode }

func (e *Engine[R]) Fingerprint() fingerprint.Fingerprint { return e.fingerprint }

// LoadedFingerprint is the fingerprint of the mapping in memory. It is nil
// until the first load or persist.
func (e *Engine[R]) LoadedFingerprint() fingerprint.Fingerprint { return e.loadedFP }

// Loaded reports whether the engine holds a mapping.
func (e *Engine[R]) Loaded() bool { return e.entries != nil }

func (e *Engine[R]) Len() int { return len(e.entries) }

func (e *Engine[R]) Stats() Stats { return e.stats }

func (e *Engine[R]) call(in []reflect.Value, kwargs Kwargs) (R, error) {
	var zero R

	if e.kwType != nil {
		if kwargs == nil {
			kwargs = Kwargs{}
		}
		in[len(in)-1] = reflect.ValueOf(kwargs).Convert(e.kwType)
	}

	out := e.fn.Call(in)
	if e.hasError {
		if err, _ := out[1].Interface().(error); err != nil {
			return zero, err
		}
	}

	v, _ := out[0].Interface().(R)
	return v, nil
}

// arguments converts args to the function's parameter types. The returned
// slice has a trailing slot for kwargs when the function takes them.
func (e *Engine[R]) arguments(args []any, kwargs Kwargs) ([]reflect.Value, error) {
	t := e.fn.Type()

	fixed := t.NumIn()
	if e.kwType != nil {
		fixed--
	} else if len(kwargs) > 0 {
		return nil, fmt.Errorf("%w: %s takes no keyword arguments", ErrArguments, e.name)
	}

	switch {
	case t.IsVariadic() && len(args) < fixed-1:
		return nil, fmt.Errorf("%w: %s wants at least %d arguments, got %d", ErrArguments, e.name, fixed-1, len(args))
	case !t.IsVariadic() && len(args) != fixed:
		return nil, fmt.Errorf("%w: %s wants %d arguments, got %d", ErrArguments, e.name, fixed, len(args))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	for i, arg := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= fixed-1 {
			pt = t.In(fixed - 1).Elem()
		} else {
			pt = t.In(i)
		}

		v, err := convert(arg, pt)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d of %s: %w", ErrArguments, i, e.name, err)
		}
		in = append(in, v)
	}

	if e.kwType != nil {
		in = append(in, reflect.Zero(e.kwType))
	}
	return in, nil
}

func convert(arg any, to reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch to.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
			return reflect.Zero(to), nil
		default:
			return reflect.Value{}, fmt.Errorf("nil is not a valid %s", to)
		}
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(to) {
		return v, nil
	}

	if (isNumeric(v.Kind()) && isNumeric(to.Kind())) || v.Kind() == to.Kind() {
		if v.CanConvert(to) {
			c := v.Convert(to)
			if isNumeric(v.Kind()) && !c.Convert(v.Type()).Equal(v) {
				return reflect.Value{}, fmt.Errorf("%v does not fit in %s", arg, to)
			}
			return c, nil
		}
	}

	return reflect.Value{}, fmt.Errorf("%T is not a valid %s", arg, to)
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}

func isKwargs(t reflect.Type) bool {
	return t.Kind() == reflect.Map &&
		t.Key().Kind() == reflect.String &&
		t.Elem().Kind() == reflect.Interface &&
		t.Elem().NumMethod() == 0
}
