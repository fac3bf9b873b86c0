// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachefile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// Extension is the suffix of cache files created with default names.
const Extension = ".dyncache"

// ErrCorrupt is returned when a file does not follow the cache layout.
var ErrCorrupt = errors.New("corrupt cache file")

// Header is the fixed prefix of every cache file:
//
//	[msgpack bool]  itemwise
//	[msgpack bin]   fingerprint
//	[uint32 LE]     item count
type Header struct {
	Itemwise    bool
	Fingerprint []byte
	Count       uint32
}

// Progress is told about itemwise reads and writes, one call to Increment
// per entry.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int)  {}
func (nopProgress) Increment() {}
func (nopProgress) Finish()    {}

// Reader decodes a cache file from a stream: Header first, then the body.
type Reader struct {
	br       *bufio.Reader
	dec      *msgpack.Decoder
	progress Progress
	header   *Header
}

// NewReader wraps r. A nil progress is allowed.
func NewReader(r io.Reader, progress Progress) *Reader {
	if progress == nil {
		progress = nopProgress{}
	}
	// The decoder reads straight from br because *bufio.Reader is a
	// ByteScanner, so the raw item count can be read in between values.
	br := bufio.NewReader(r)
	return &Reader{br: br, dec: msgpack.NewDecoder(br), progress: progress}
}

// Header reads the file header. It must be called before ReadEntries.
func (r *Reader) Header() (Header, error) {
	if r.header != nil {
		return *r.header, nil
	}

	var h Header
	var err error

	if h.Itemwise, err = r.dec.DecodeBool(); err != nil {
		return Header{}, corrupt("storage mode", err)
	}
	if h.Fingerprint, err = r.dec.DecodeBytes(); err != nil {
		return Header{}, corrupt("fingerprint", err)
	}
	if err := binary.Read(r.br, binary.LittleEndian, &h.Count); err != nil {
		return Header{}, corrupt("item count", err)
	}

	r.header = &h
	return h, nil
}

// ReadEntries decodes the body into a map whose values are decoded as V.
func ReadEntries[V any](r *Reader) (map[string]V, error) {
	h, err := r.Header()
	if err != nil {
		return nil, err
	}

	if !h.Itemwise {
		entries := make(map[string]V, h.Count)
		if err := r.dec.Decode(&entries); err != nil {
			return nil, corrupt("entries", err)
		}
		if entries == nil {
			entries = map[string]V{}
		}
		if len(entries) != int(h.Count) {
			return nil, fmt.Errorf("%w: header says %d items, body has %d", ErrCorrupt, h.Count, len(entries))
		}
		return entries, nil
	}

	entries := make(map[string]V, h.Count)
	r.progress.Start(int(h.Count))
	defer r.progress.Finish()

	for i := uint32(0); i < h.Count; i++ {
		key, value, err := readPair[V](r.dec)
		if err != nil {
			return nil, corrupt(fmt.Sprintf("item %d", i), err)
		}
		entries[key] = value
		r.progress.Increment()
	}

	return entries, nil
}

func readPair[V any](dec *msgpack.Decoder) (string, V, error) {
	var value V

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return "", value, err
	}
	if n != 2 {
		return "", value, fmt.Errorf("pair has %d elements", n)
	}

	key, err := dec.DecodeString()
	if err != nil {
		return "", value, err
	}
	if err := dec.Decode(&value); err != nil {
		return "", value, err
	}
	return key, value, nil
}

// Write encodes a complete cache file to w.
func Write[V any](w io.Writer, itemwise bool, fingerprint []byte, entries map[string]V, progress Progress) error {
	if progress == nil {
		progress = nopProgress{}
	}

	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)

	if err := enc.EncodeBool(itemwise); err != nil {
		return err
	}
	if err := enc.EncodeBytes(fingerprint); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}

	if itemwise {
		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		progress.Start(len(keys))
		for _, key := range keys {
			if err := writePair(enc, key, entries[key]); err != nil {
				progress.Finish()
				return err
			}
			progress.Increment()
		}
		progress.Finish()
	} else if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}

	return bw.Flush()
}

func writePair(enc *msgpack.Encoder, key string, value any) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(key); err != nil {
		return err
	}
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return nil
}

// WriteFile writes a cache file to path by way of a temporary file in the
// same directory that is renamed over path once complete. A crash mid-write
// leaves the previous file intact.
func WriteFile[V any](path string, itemwise bool, fingerprint []byte, entries map[string]V, progress Progress) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = Write(tmp, itemwise, fingerprint, entries, progress); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil { //nolint:mnd
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

// ReadFile decodes a whole cache file with values as generic Go values
// (maps, slices, scalars). Meant for tooling that has no result type.
func ReadFile(path string) (Header, map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	r := NewReader(f, nil)
	r.dec.UseLooseInterfaceDecoding(true)

	h, err := r.Header()
	if err != nil {
		return Header{}, nil, err
	}
	entries, err := ReadEntries[any](r)
	if err != nil {
		return h, nil, err
	}
	return h, entries, nil
}

func corrupt(what string, err error) error {
	return fmt.Errorf("%w: reading %s: %w", ErrCorrupt, what, err)
}
