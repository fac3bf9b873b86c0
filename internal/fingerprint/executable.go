// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"debug/elf"
	"debug/macho"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/apex/log"
)

var errUnknownFormat = errors.New("unsupported executable format")

type symbol struct {
	addr uint64
	size uint64
	base uint64
	text io.ReaderAt
}

// ExecutableStrategy reads a function's machine code out of the running
// executable. Machine code embeds relative offsets to other symbols, so a
// rebuild that moves unrelated code can also change a digest. That errs on
// the side of recomputation.
type ExecutableStrategy struct {
	path    string
	file    io.Closer
	symbols map[string]symbol
}

// OpenExecutable indexes the function symbols of the ELF or Mach-O file at
// path. The file stays open until Close.
func OpenExecutable(path string) (*ExecutableStrategy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open executable: %w", err)
	}

	var symbols map[string]symbol
	if ef, eerr := elf.NewFile(f); eerr == nil {
		symbols, err = elfSymbols(ef)
	} else if mf, merr := macho.NewFile(f); merr == nil {
		symbols, err = machoSymbols(mf)
	} else {
		err = fmt.Errorf("%s: %w", path, errUnknownFormat)
	}

	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &ExecutableStrategy{path: path, file: f, symbols: symbols}, nil
}

func (s *ExecutableStrategy) Name() string { return "executable" }

// Len returns the number of indexed function symbols.
func (s *ExecutableStrategy) Len() int { return len(s.symbols) }

// Close releases the executable file.
func (s *ExecutableStrategy) Close() error {
	return s.file.Close()
}

// Inspect reads the machine code behind fn. It fails with
// ErrUnsupportedTarget when no symbol can be found for it, since a digest
// without code cannot tell two bodies apart.
func (s *ExecutableStrategy) Inspect(fn reflect.Value) (Structure, error) {
	st := signature(fn)
	st.Strategy = s.Name()

	names := s.resolve(st.Name)
	if len(names) == 0 {
		return Structure{}, fmt.Errorf("%w: no machine code for %s in %s", ErrUnsupportedTarget, st.Name, s.path)
	}

	for _, name := range names {
		code, err := s.code(name)
		if err != nil {
			return Structure{}, err
		}
		st.Code = append(st.Code, code...)
	}
	st.CodeSize = len(st.Code)

	log.WithFields(log.Fields{
		"func":    st.Name,
		"symbols": len(names),
	}).Debug("read machine code")

	return st, nil
}

// resolve maps a runtime function name to the symbols holding its code,
// sorted by name.
//
//   - "pkg.(*T).M-fm" is a method value wrapper. The wrapper may only call
//     the method, so both are read.
//   - "pkg.F[...]" is a generic instantiation. Every "pkg.F[<types>]"
//     symbol is read, which includes the shape functions with the body.
func (s *ExecutableStrategy) resolve(name string) []string {
	var names []string
	add := func(n string) {
		if _, ok := s.symbols[n]; ok {
			names = append(names, n)
		}
	}

	if i := strings.Index(name, "[...]"); i >= 0 {
		pre, post := name[:i+1], name[i+len("[...]"):]
		for sym := range s.symbols {
			if matchesInstantiation(sym, pre, post) {
				names = append(names, sym)
			}
		}
		if method := strings.TrimSuffix(post, "-fm"); method != post {
			for sym := range s.symbols {
				if matchesInstantiation(sym, pre, method) {
					names = append(names, sym)
				}
			}
		}
	} else {
		add(name)
		if method := strings.TrimSuffix(name, "-fm"); method != name {
			add(method)
		}
	}

	sort.Strings(names)
	return names
}

// matchesInstantiation reports whether sym is pre + "<types>]" + post with
// balanced brackets in between.
func matchesInstantiation(sym, pre, post string) bool {
	if !strings.HasPrefix(sym, pre) {
		return false
	}
	depth := 1
	for i := len(pre); i < len(sym); i++ {
		switch sym[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return sym[i+1:] == post
			}
		}
	}
	return false
}

func (s *ExecutableStrategy) code(name string) ([]byte, error) {
	sym := s.symbols[name]
	code := make([]byte, sym.size)
	if _, err := sym.text.ReadAt(code, int64(sym.addr-sym.base)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read code of %s from %s: %w", name, s.path, err)
	}
	return code, nil
}

func elfSymbols(f *elf.File) (map[string]symbol, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}

	out := make(map[string]symbol, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 {
			continue
		}
		if s.Section == elf.SHN_UNDEF || int(s.Section) >= len(f.Sections) {
			continue
		}
		sec := f.Sections[s.Section]
		if sec.Type != elf.SHT_PROGBITS {
			continue
		}
		out[s.Name] = symbol{addr: s.Value, size: s.Size, base: sec.Addr, text: sec}
	}

	if len(out) == 0 {
		return nil, elf.ErrNoSymbols
	}
	return out, nil
}

// machoSymbols derives sizes from the distance to the next symbol in the
// same section, since Mach-O symbol tables carry none.
func machoSymbols(f *macho.File) (map[string]symbol, error) {
	if f.Symtab == nil {
		return nil, errors.New("mach-o file has no symbol table")
	}

	var syms []macho.Symbol
	for _, s := range f.Symtab.Syms {
		if s.Sect == 0 || int(s.Sect) > len(f.Sections) {
			continue
		}
		if f.Sections[s.Sect-1].Name != "__text" {
			continue
		}
		syms = append(syms, s)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Value < syms[j].Value })

	out := make(map[string]symbol, len(syms))
	for i, s := range syms {
		sec := f.Sections[s.Sect-1]
		end := sec.Addr + sec.Size
		if i+1 < len(syms) && syms[i+1].Sect == s.Sect {
			end = syms[i+1].Value
		}
		if end <= s.Value {
			continue
		}
		name := strings.TrimPrefix(s.Name, "_")
		out[name] = symbol{addr: s.Value, size: end - s.Value, base: sec.Addr, text: sec}
	}

	if len(out) == 0 {
		return nil, errors.New("mach-o file has no text symbols")
	}
	return out, nil
}
