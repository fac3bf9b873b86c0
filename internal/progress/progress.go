// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package progress draws a bar for long itemwise reads and writes.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"golang.org/x/term"

	"github.com/staranto/dyncache/internal/cachefile"
)

const defaultWidth = 40

// Bar renders a single line progress bar. Each redraw returns the cursor to
// the start of the line.
type Bar struct {
	w     io.Writer
	label string
	model progress.Model
	total int
	done  int
	shown int
}

// New returns a Bar when w is a terminal and a no-op otherwise.
func New(w io.Writer, label string) cachefile.Progress {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return Nop{}
	}

	width := defaultWidth
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols/2 < width {
		width = cols / 2
	}
	return NewBar(w, label, width)
}

// NewBar returns a Bar drawing to w regardless of what w is.
func NewBar(w io.Writer, label string, width int) *Bar {
	return &Bar{
		w:     w,
		label: label,
		model: progress.New(progress.WithDefaultGradient(), progress.WithWidth(width)),
		shown: -1,
	}
}

func (b *Bar) Start(total int) {
	b.total = total
	b.done = 0
	b.shown = -1
	b.draw()
}

func (b *Bar) Increment() {
	b.done++
	b.draw()
}

func (b *Bar) Finish() {
	b.done = b.total
	b.draw()
	fmt.Fprintln(b.w)
}

// Percent is the completed fraction, 1 when there is nothing to do.
func (b *Bar) Percent() float64 {
	if b.total <= 0 {
		return 1
	}
	return float64(b.done) / float64(b.total)
}

// draw redraws only when the whole percentage changes.
func (b *Bar) draw() {
	pct := 100 //nolint:mnd
	if b.total > 0 {
		pct = b.done * 100 / b.total
	}
	if pct == b.shown {
		return
	}
	b.shown = pct
	fmt.Fprintf(b.w, "\r%s %s", b.label, b.model.ViewAs(b.Percent()))
}

// Nop discards progress.
type Nop struct{}

func (Nop) Start(int)  {}
func (Nop) Increment() {}
func (Nop) Finish()    {}
