// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0
// no-cloc

package cache

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/dyncache/internal/cachefile"
	"github.com/staranto/dyncache/internal/fingerprint"
)

var calls int

func ratio(a, b float64) float64 {
	calls++
	return a * a / b
}

func product(a, b float64) float64 {
	calls++
	return a * a * b
}

func scaled(x int, kw Kwargs) int {
	calls++
	if f, ok := kw["factor"].(int); ok {
		return x * f
	}
	return x
}

var errNegative = errors.New("negative")

func root(x int) (int, error) {
	calls++
	if x < 0 {
		return 0, errNegative
	}
	return x / 2, nil
}

type point struct {
	X, Y int
}

func mirror(p point) point {
	calls++
	return point{X: p.Y, Y: p.X}
}

func apply(f func(int) int, x int) int {
	calls++
	return f(x)
}

func inc(x int) int { return x + 1 }

func sumMap(m map[int]int) int {
	calls++
	total := 0
	for k, v := range m {
		total += k * v
	}
	return total
}

func dec(x int) int { return x - 1 }

func bind[R any](t *testing.T, dir string, fn any, opts ...func(*Builder)) *Engine[R] {
	t.Helper()
	b := NewBuilder().Root(dir).Fingerprinter(fingerprint.Default())
	for _, opt := range opts {
		opt(b)
	}
	e, err := Build[R](b, fn)
	require.NoError(t, err)
	return e
}

func autoPersist(b *Builder) { b.AutoPersist(true) }

func TestEngine_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	calls = 0

	e := bind[float64](t, dir, ratio, autoPersist)
	assert.Equal(t, filepath.Join(dir, "ratio.dyncache"), e.Path())
	assert.False(t, e.Loaded())

	v, err := e.Call(3.0, 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-9)
	assert.Equal(t, 1, calls)

	v, err = e.Call(3.0, 2.0)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-9)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Stats{Hits: 1, Misses: 1}, e.Stats())
	assert.FileExists(t, e.Path())

	// A fresh engine picks up the persisted entry.
	fresh := bind[float64](t, dir, ratio)
	v, err = fresh.Call(3, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-9)
	assert.Equal(t, 1, calls)
	assert.True(t, fresh.Loaded())
	assert.Equal(t, 1, fresh.Len())
}

func TestEngine_KeySensitivity(t *testing.T) {
	calls = 0
	e := bind[int](t, t.TempDir(), scaled)

	v, err := e.Invoke([]any{3}, Kwargs{"factor": 2, "unused": "a"})
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	_, err = e.Invoke([]any{3}, Kwargs{"unused": "a", "factor": 2})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "keyword order does not matter")

	v, err = e.Invoke([]any{3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, calls)

	_, err = e.Invoke([]any{3}, Kwargs{"factor": int64(2), "unused": "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "integer width does not matter")

	p := bind[float64](t, t.TempDir(), ratio)
	a, err := p.Call(2, 4)
	require.NoError(t, err)
	b, err := p.Call(4, 2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.Len(), "positional order matters")
}

func TestEngine_FingerprintInvalidation(t *testing.T) {
	dir := t.TempDir()
	calls = 0

	withName := func(b *Builder) { b.Filename("shared.dyncache").AutoPersist(true) }

	r := bind[float64](t, dir, ratio, withName)
	_, err := r.Call(3, 2)
	require.NoError(t, err)

	p := bind[float64](t, dir, product, withName)
	require.ErrorIs(t, p.Load(), ErrFingerprintMismatch)

	v, err := p.Call(3, 2)
	require.NoError(t, err)
	assert.InDelta(t, 18.0, v, 1e-9)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, p.Len())

	// The file now belongs to product.
	h, _, err := cachefile.ReadFile(filepath.Join(dir, "shared.dyncache"))
	require.NoError(t, err)
	assert.Equal(t, []byte(p.Fingerprint()), h.Fingerprint)
}

// renamed reports every function under one name, so only the machine code
// tells them apart.
type renamed struct {
	fingerprint.Strategy
	name string
}

func (r renamed) Inspect(fn reflect.Value) (fingerprint.Structure, error) {
	st, err := r.Strategy.Inspect(fn)
	st.Name = r.name
	return st, err
}

func TestEngine_BodyChangeInvalidates(t *testing.T) {
	strategy, err := fingerprint.Detect()
	if err != nil {
		t.Skipf("executable symbols unavailable: %v", err)
	}
	name, err := fingerprint.Name(ratio)
	require.NoError(t, err)

	dir := t.TempDir()
	calls = 0

	// An earlier build in which ratio's body was a*a*b.
	before, err := Build[float64](NewBuilder().Root(dir).Filename("ratio.dyncache").AutoPersist(true).
		Fingerprinter(fingerprint.New(renamed{Strategy: strategy, name: name})), product)
	require.NoError(t, err)
	v, err := before.Call(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, v, 1e-9)

	after, err := Build[float64](NewBuilder().Root(dir).AutoPersist(true).
		Fingerprinter(fingerprint.New(strategy)), ratio)
	require.NoError(t, err)
	require.Equal(t, before.Path(), after.Path())
	assert.False(t, before.Fingerprint().Equal(after.Fingerprint()))
	assert.ErrorIs(t, after.Load(), ErrFingerprintMismatch)

	v, err = after.Call(1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-9)
	assert.Equal(t, 2, calls)
	assert.Equal(t, Stats{Misses: 1}, after.Stats())
}

// failing cannot read any function.
type failing struct{}

func (failing) Name() string { return "failing" }

func (failing) Inspect(reflect.Value) (fingerprint.Structure, error) {
	return fingerprint.Structure{}, fingerprint.ErrUnsupportedTarget
}

func TestEngine_BindWithoutMachineCode(t *testing.T) {
	e := New[float64](Config{Root: t.TempDir(), Fingerprinter: fingerprint.New(failing{})})
	err := e.Bind(ratio)
	assert.ErrorIs(t, err, ErrInvalidTarget)
	assert.ErrorIs(t, err, fingerprint.ErrUnsupportedTarget)

	// Signature fingerprints are an explicit choice.
	s, err := Build[float64](NewBuilder().Root(t.TempDir()).SignatureOnly(), ratio)
	require.NoError(t, err)
	assert.Len(t, s.Fingerprint(), 32)
}

func TestEngine_PersistErrorReachesCaller(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))

	tests := []struct {
		name     string
		root     string
		filename string
		setup    func(t *testing.T, root string)
	}{
		{
			name: "root under a file",
			root: filepath.Join(notADir, "memo"),
		},
		{
			name:     "target is a directory",
			root:     t.TempDir(),
			filename: "taken",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "taken", "child"), 0o755))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(t, tt.root)
			}
			calls = 0
			e := bind[float64](t, tt.root, ratio, func(b *Builder) {
				b.AutoPersist(true).Filename(tt.filename)
			})

			v, err := e.Call(3, 2)
			assert.Error(t, err)
			assert.InDelta(t, 4.5, v, 1e-9)
			assert.Equal(t, 1, calls)

			assert.Error(t, e.Persist())
		})
	}
}

func TestEngine_MapArgumentsHit(t *testing.T) {
	calls = 0
	e := bind[int](t, t.TempDir(), sumMap)

	for i := 0; i < 50; i++ {
		m := make(map[int]int, 20)
		for k := 0; k < 20; k++ {
			m[k] = k
		}
		_, err := e.Call(m)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, e.Len())
	assert.Equal(t, Stats{Hits: 49, Misses: 1}, e.Stats())
}

func TestEngine_DirectoryGuard(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ratio.dyncache"), 0o755))

	e := bind[float64](t, dir, ratio)
	assert.ErrorIs(t, e.Load(), ErrCacheIsDirectory)

	v, err := e.Call(3, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, v, 1e-9)
	assert.True(t, e.Loaded())
}

func TestEngine_LoadMissing(t *testing.T) {
	e := bind[float64](t, t.TempDir(), ratio)
	assert.ErrorIs(t, e.Load(), ErrCacheNotFound)
}

func TestEngine_CorruptFileRecovered(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ratio.dyncache"), []byte{0xc3, 0x01}, 0o600))

	e := bind[float64](t, dir, ratio)
	assert.ErrorIs(t, e.Load(), cachefile.ErrCorrupt)

	_, err := e.Call(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Len())
}

func TestEngine_RoundTripModes(t *testing.T) {
	for _, mode := range []Mode{Compact, Itemwise} {
		t.Run(mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			withMode := func(b *Builder) { b.Mode(mode) }

			e := bind[point](t, dir, mirror, withMode)
			for i := 0; i < 5; i++ {
				_, err := e.Call(point{X: i, Y: i * 10})
				require.NoError(t, err)
			}
			require.NoError(t, e.Persist())

			h, _, err := cachefile.ReadFile(e.Path())
			require.NoError(t, err)
			assert.Equal(t, mode == Itemwise, h.Itemwise)
			assert.Equal(t, uint32(5), h.Count)

			calls = 0
			fresh := bind[point](t, dir, mirror)
			require.NoError(t, fresh.Load())
			assert.Equal(t, mode, fresh.Mode())

			v, err := fresh.Call(point{X: 3, Y: 30})
			require.NoError(t, err)
			assert.Equal(t, point{X: 30, Y: 3}, v)
			assert.Zero(t, calls)
		})
	}
}

func TestEngine_PersistAs(t *testing.T) {
	dir := t.TempDir()

	e := bind[float64](t, dir, ratio)
	_, err := e.Call(3, 2)
	require.NoError(t, err)
	require.NoError(t, e.Persist())

	fresh := bind[float64](t, dir, ratio, func(b *Builder) { b.Mode(Itemwise) })
	require.NoError(t, fresh.Load())
	assert.Equal(t, Compact, fresh.Mode(), "file mode wins after a load")

	require.NoError(t, fresh.PersistAs(Itemwise))
	h, entries, err := cachefile.ReadFile(fresh.Path())
	require.NoError(t, err)
	assert.True(t, h.Itemwise)
	assert.Len(t, entries, 1)
}

func TestEngine_PersistDoesNotClobber(t *testing.T) {
	dir := t.TempDir()

	e := bind[float64](t, dir, ratio, autoPersist)
	_, err := e.Call(3, 2)
	require.NoError(t, err)

	fresh := bind[float64](t, dir, ratio)
	require.NoError(t, fresh.Persist())
	assert.Equal(t, 1, fresh.Len())
}

func TestEngine_PersistCreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "memo")

	e := bind[float64](t, dir, ratio)
	_, err := e.Call(3, 2)
	require.NoError(t, err)
	require.NoError(t, e.Persist())
	assert.FileExists(t, filepath.Join(dir, "ratio.dyncache"))
}

func TestEngine_AutoPersistOff(t *testing.T) {
	e := bind[float64](t, t.TempDir(), ratio)
	_, err := e.Call(3, 2)
	require.NoError(t, err)
	assert.NoFileExists(t, e.Path())
}

func TestEngine_FunctionError(t *testing.T) {
	calls = 0
	e := bind[int](t, t.TempDir(), root, autoPersist)

	_, err := e.Call(-1)
	assert.ErrorIs(t, err, errNegative)
	assert.Zero(t, e.Len())

	v, err := e.Call(8)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	_, err = e.Call(8)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEngine_FuncArguments(t *testing.T) {
	calls = 0
	e := bind[int](t, t.TempDir(), apply)

	v, err := e.Call(inc, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = e.Call(dec, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	_, err = e.Call(inc, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, e.Len())
}

func TestEngine_Disabled(t *testing.T) {
	t.Setenv("DYNCACHE", "0")
	calls = 0

	e := bind[float64](t, t.TempDir(), ratio, autoPersist)
	_, err := e.Call(3, 2)
	require.NoError(t, err)
	_, err = e.Call(3, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NoFileExists(t, e.Path())
}

func TestEngine_Bind(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		err  error
	}{
		{name: "nil", fn: nil, err: ErrInvalidTarget},
		{name: "not a func", fn: 42, err: ErrInvalidTarget},
		{name: "no results", fn: func(int) {}, err: ErrInvalidTarget},
		{name: "wrong result", fn: func(int) string { return "" }, err: ErrInvalidTarget},
		{name: "second result not error", fn: func(int) (float64, int) { return 0, 0 }, err: ErrInvalidTarget},
		{name: "ok", fn: ratio},
		{name: "ok with error", fn: func(x float64) (float64, error) { return x, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New[float64](Config{Root: t.TempDir(), Fingerprinter: fingerprint.New(nil)})
			err := e.Bind(tt.fn)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.ErrorIs(t, e.Bind(tt.fn), ErrAlreadyBound)
		})
	}
}

func TestEngine_Unbound(t *testing.T) {
	e := New[float64](Config{})

	_, err := e.Call(1, 2)
	assert.ErrorIs(t, err, ErrUnbound)
	assert.ErrorIs(t, e.Load(), ErrUnbound)
	assert.ErrorIs(t, e.Persist(), ErrUnbound)
	assert.ErrorIs(t, e.PersistAs(Itemwise), ErrUnbound)
}

func TestEngine_Arguments(t *testing.T) {
	e := bind[float64](t, t.TempDir(), ratio)

	tests := []struct {
		name   string
		args   []any
		kwargs Kwargs
	}{
		{name: "too few", args: []any{1.0}},
		{name: "too many", args: []any{1.0, 2.0, 3.0}},
		{name: "wrong type", args: []any{"a", 2.0}},
		{name: "nil scalar", args: []any{nil, 2.0}},
		{name: "unexpected kwargs", args: []any{1.0, 2.0}, kwargs: Kwargs{"x": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Invoke(tt.args, tt.kwargs)
			assert.ErrorIs(t, err, ErrArguments)
		})
	}

	i := bind[int](t, t.TempDir(), inc)
	_, err := i.Call(1.5)
	assert.ErrorIs(t, err, ErrArguments, "lossy conversion")

	v, err := i.Call(2.0)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestEngine_Variadic(t *testing.T) {
	sum := func(base int, xs ...int) int {
		for _, x := range xs {
			base += x
		}
		return base
	}

	e := bind[int](t, t.TempDir(), sum)
	v, err := e.Call(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	v, err = e.Call(1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, e.Len())

	_, err = e.Call()
	assert.ErrorIs(t, err, ErrArguments)
}

func TestMemoize(t *testing.T) {
	t.Setenv("DYNCACHE_DIR", t.TempDir())

	e, err := Memoize[int](inc)
	require.NoError(t, err)

	f := e.Func()
	v, err := f(41)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.FileExists(t, e.Path())
	assert.Equal(t, "inc.dyncache", filepath.Base(e.Path()))
}

func TestMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "", want: Compact},
		{in: "compact", want: Compact},
		{in: "ITEMWISE", want: Itemwise},
		{in: " itemwise ", want: Itemwise},
		{in: "columnar", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.String(), got.String())
		})
	}
}
