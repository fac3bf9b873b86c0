// Copyright (c) 2026 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// docgen checks docs/commands against the dyncache command set and renders
// man pages, tldr pages and a command index from it.
package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	md2man "github.com/cpuguy83/go-md2man/v2/md2man"
	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/command"
)

const (
	binName = "dyncache"
	homeURL = "https://github.com/staranto/dyncache"
)

func main() {
	root := flag.String("root", ".", "repo root")
	strict := flag.Bool("strict", false, "fail on flags missing from a command doc")
	flag.Parse()

	app, err := command.InitApp(context.Background(), []string{binName})
	if err != nil {
		fatalf("building command set: %v", err)
	}

	problems, err := generate(*root, app.Commands)
	if err != nil {
		fatalf("%v", err)
	}
	for _, p := range problems {
		fmt.Fprintln(os.Stderr, "warning:", p)
	}
	if *strict && len(problems) > 0 {
		os.Exit(1)
	}
}

func fatalf(f string, a ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", a...)
	os.Exit(1)
}

// generate renders every command's doc under root. A command without a doc,
// or a doc without a command, is an error. Flags a doc never mentions are
// returned as problems.
func generate(root string, commands []*cli.Command) ([]string, error) {
	docs := filepath.Join(root, "docs", "commands")
	manDir := filepath.Join(root, "docs", "man", "share", "man1")
	tldrDir := filepath.Join(root, "docs", "tldr")
	for _, dir := range []string{manDir, tldrDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	known := map[string]bool{}
	var problems []string
	var pages []page

	for _, cmd := range commands {
		known[cmd.Name] = true

		raw, err := os.ReadFile(filepath.Join(docs, cmd.Name+".md"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("command %s has no docs/commands/%s.md", cmd.Name, cmd.Name)
		}
		if err != nil {
			return nil, err
		}

		p := parse(cmd.Name, raw)
		if p.short == "" {
			p.short = cmd.Usage
		}
		pages = append(pages, p)

		for _, f := range cmd.Flags {
			name := f.Names()[0]
			if name == "help" {
				continue
			}
			if !bytes.Contains(raw, []byte("--"+name)) {
				problems = append(problems, fmt.Sprintf("%s: --%s is not documented", cmd.Name, name))
			}
		}

		if err := writeIfChanged(filepath.Join(manDir, fmt.Sprintf("%s-%s.1", binName, cmd.Name)), md2man.Render(raw)); err != nil {
			return nil, err
		}
		if err := writeIfChanged(filepath.Join(tldrDir, fmt.Sprintf("%s-%s.md", binName, cmd.Name)), []byte(p.tldr())); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(docs)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".md")
		if e.IsDir() || name == e.Name() || name == "README" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("docs/commands/%s documents no command", e.Name())
		}
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].cmd < pages[j].cmd })
	if err := writeIfChanged(filepath.Join(docs, "README.md"), index(pages)); err != nil {
		return nil, err
	}

	return problems, nil
}

func writeIfChanged(path string, data []byte) error {
	old, err := os.ReadFile(path)
	if err == nil && bytes.Equal(bytes.TrimSpace(old), bytes.TrimSpace(data)) {
		return nil
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec
}

type example struct {
	desc string
	cmd  string
}

// page is what docgen reads from a command doc: the H1, the first
// paragraph under "Short description" and the "Quick examples" block.
type page struct {
	cmd      string
	title    string
	short    string
	examples []example
}

func parse(cmd string, raw []byte) page {
	p := page{cmd: cmd}

	var section string
	var fenced bool
	var desc string

	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		switch {
		case strings.HasPrefix(line, "```"):
			fenced = !fenced
			continue
		case fenced:
			if section != "quick examples" || line == "" {
				continue
			}
			if strings.HasPrefix(line, "#") {
				desc = strings.TrimSpace(strings.TrimLeft(line, "#"))
				continue
			}
			if desc == "" {
				desc = "Example"
			}
			p.examples = append(p.examples, example{desc: desc, cmd: strings.Join(strings.Fields(line), " ")})
			desc = ""
		case strings.HasPrefix(line, "## "):
			section = strings.ToLower(strings.TrimPrefix(line, "## "))
		case strings.HasPrefix(line, "# ") && p.title == "":
			p.title = strings.TrimPrefix(line, "# ")
		case section == "short description":
			if line == "" {
				if p.short != "" {
					section = ""
				}
				continue
			}
			p.short = strings.TrimSpace(p.short + " " + line)
		}
	}

	return p
}

func (p page) tldr() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s-%s\n\n", binName, p.cmd)
	summary := p.short
	if summary == "" {
		summary = p.title
	}
	fmt.Fprintf(&b, "> %s\n> More information: %s.\n\n", summary, homeURL)

	examples := p.examples
	if len(examples) == 0 {
		examples = []example{{desc: "Show help for the command", cmd: binName + " " + p.cmd + " --help"}}
	}
	for i, ex := range examples {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s:\n\n`%s`\n", ex.desc, ex.cmd)
	}

	return b.String()
}

func index(pages []page) []byte {
	var b bytes.Buffer
	b.WriteString("# dyncache commands\n\n| Command | Description |\n| --- | --- |\n")
	for _, p := range pages {
		fmt.Fprintf(&b, "| [%s](%s.md) | %s |\n", p.cmd, p.cmd, p.short)
	}
	return b.Bytes()
}
