// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/staranto/dyncache/internal/fingerprint"
)

// Kwargs carries keyword arguments. A bound function receives them when its
// last parameter is Kwargs (or any map[string]any).
type Kwargs map[string]any

// funcKey stands in for a function-valued argument.
type funcKey struct {
	Name        string `msgpack:"name"`
	Fingerprint []byte `msgpack:"fp"`
}

// sortedMap stands in for a map whose keys are not strings. msgpack only
// sorts string keys, so the entries are keyed as [key, value] pairs ordered
// by their encoded key.
type sortedMap struct {
	Pairs [][2]any `msgpack:"pairs"`
}

var (
	customEncoderType = reflect.TypeOf((*msgpack.CustomEncoder)(nil)).Elem()
	marshalerType     = reflect.TypeOf((*msgpack.Marshaler)(nil)).Elem()
)

// keyEncoder builds canonical keys: the msgpack encoding of
// [[positional...], {kwargs}] with map keys sorted and integers compacted, so
// int(2) and int64(2) produce the same key.
type keyEncoder struct {
	fp *fingerprint.Fingerprinter
}

func newKeyEncoder(w *bytes.Buffer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	return enc
}

func (k keyEncoder) encode(args []reflect.Value, kwargs Kwargs) (string, error) {
	var buf bytes.Buffer
	enc := newKeyEncoder(&buf)

	if err := enc.EncodeArrayLen(2); err != nil {
		return "", err
	}

	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return "", err
	}
	for i, arg := range args {
		v, err := k.keyable(arg)
		if err != nil {
			return "", fmt.Errorf("%w: argument %d: %w", ErrArguments, i, err)
		}
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("%w: argument %d is not serializable: %w", ErrArguments, i, err)
		}
	}

	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := enc.EncodeMapLen(len(names)); err != nil {
		return "", err
	}
	for _, name := range names {
		v, err := k.keyable(reflect.ValueOf(kwargs[name]))
		if err != nil {
			return "", fmt.Errorf("%w: keyword %q: %w", ErrArguments, name, err)
		}
		if err := enc.EncodeString(name); err != nil {
			return "", err
		}
		if err := enc.Encode(v); err != nil {
			return "", fmt.Errorf("%w: keyword %q is not serializable: %w", ErrArguments, name, err)
		}
	}

	return buf.String(), nil
}

// keyable returns a value whose msgpack encoding depends only on v's
// contents. Values that msgpack already encodes canonically are returned as
// is.
func (k keyEncoder) keyable(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Func {
		return k.funcKey(v)
	}
	if !needsCanonical(v.Type(), map[reflect.Type]bool{}) {
		return v.Interface(), nil
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		return k.keyable(v.Elem())

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		out := make([]any, v.Len())
		for i := range out {
			item, err := k.keyable(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				item, err := k.keyable(iter.Value())
				if err != nil {
					return nil, err
				}
				out[iter.Key().String()] = item
			}
			return out, nil
		}
		return k.sortedMap(v)

	case reflect.Struct:
		t := v.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, _, _ := strings.Cut(f.Tag.Get("msgpack"), ","); tag == "-" {
				continue
			} else if tag != "" {
				name = tag
			}
			item, err := k.keyable(v.Field(i))
			if err != nil {
				return nil, err
			}
			out[name] = item
		}
		return out, nil
	}

	return v.Interface(), nil
}

func (k keyEncoder) funcKey(v reflect.Value) (any, error) {
	if v.IsNil() {
		return nil, nil
	}
	fn := v.Interface()
	name, err := fingerprint.Name(fn)
	if err != nil {
		return nil, err
	}
	sum, err := k.fp.Of(fn)
	if err != nil {
		return nil, err
	}
	return funcKey{Name: name, Fingerprint: sum}, nil
}

func (k keyEncoder) sortedMap(v reflect.Value) (any, error) {
	type pair struct {
		raw  []byte
		item [2]any
	}

	pairs := make([]pair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := k.keyable(iter.Key())
		if err != nil {
			return nil, err
		}
		value, err := k.keyable(iter.Value())
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := newKeyEncoder(&buf).Encode(key); err != nil {
			return nil, fmt.Errorf("map key is not serializable: %w", err)
		}
		pairs = append(pairs, pair{raw: buf.Bytes(), item: [2]any{key, value}})
	}

	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].raw, pairs[j].raw) < 0 })

	out := sortedMap{Pairs: make([][2]any, len(pairs))}
	for i, p := range pairs {
		out.Pairs[i] = p.item
	}
	return out, nil
}

// needsCanonical reports whether values of t can encode differently for
// equal contents: maps with non-string keys, funcs, or interfaces that may
// hold either.
func needsCanonical(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	if t.Implements(customEncoderType) || t.Implements(marshalerType) {
		return false
	}

	switch t.Kind() {
	case reflect.Func, reflect.Interface:
		return true
	case reflect.Map:
		return t.Key().Kind() != reflect.String || needsCanonical(t.Elem(), seen)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return needsCanonical(t.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() && needsCanonical(f.Type, seen) {
				return true
			}
		}
	}
	return false
}

// DecodeKey turns a stored key back into its positional and keyword parts.
// Used for display; values come back as generic Go values.
func DecodeKey(key string) ([]any, map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader([]byte(key)))
	dec.UseLooseInterfaceDecoding(true)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, nil, err
	}
	if n != 2 {
		return nil, nil, fmt.Errorf("key has %d parts", n)
	}

	var args []any
	if err := dec.Decode(&args); err != nil {
		return nil, nil, err
	}
	var kwargs map[string]any
	if err := dec.Decode(&kwargs); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}
