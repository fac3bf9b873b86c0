// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/meta"
)

// Positional argument kinds offered by the completion scripts.
const (
	argCache = "cache"
	argDir   = "dir"
	argShell = "shell"
)

var shells = []string{"bash", "zsh"}

// argKinds maps commands to what their positional arguments are. Commands
// not listed take cache files.
var argKinds = map[string]string{
	"completion": argShell,
	"ls":         argDir,
	"purge":      argDir,
}

// flagChoices are the fixed values of valued flags.
var flagChoices = map[string][]string{
	"mode":   storageModes,
	"output": outputFormats,
}

type completionFlag struct {
	Names  []string
	Usage  string
	Valued bool
	Values []string
}

// Switches is the bash form, "--output -o".
func (f completionFlag) Switches() string {
	return strings.Join(switches(f.Names), " ")
}

// Case is the bash case pattern, "--output|-o".
func (f completionFlag) Case() string {
	return strings.Join(switches(f.Names), "|")
}

// Zsh is the _arguments spec of the flag.
func (f completionFlag) Zsh() string {
	sw := switches(f.Names)
	usage := strings.NewReplacer("[", "(", "]", ")").Replace(zshQuote(f.Usage))

	spec := fmt.Sprintf("'%s[%s]", sw[0], usage)
	if len(sw) > 1 {
		spec = fmt.Sprintf("'(%s)'{%s}'[%s]", strings.Join(sw, " "), strings.Join(sw, ","), usage)
	}
	switch {
	case len(f.Values) > 0:
		spec += fmt.Sprintf(":%s:(%s)", f.Names[0], strings.Join(f.Values, " "))
	case f.Valued:
		spec += ":" + f.Names[0]
	}
	return spec + "'"
}

// zshQuote escapes s for use inside single quotes.
func zshQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func switches(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		if len(n) == 1 {
			out[i] = "-" + n
		} else {
			out[i] = "--" + n
		}
	}
	return out
}

type completionCommand struct {
	Name  string
	Usage string
	Args  string
	Flags []completionFlag
}

// Describe is the zsh _describe entry, "ls:list cache files".
func (c completionCommand) Describe() string {
	return zshQuote(c.Name + ":" + c.Usage)
}

// Switches lists every switch of the command for bash.
func (c completionCommand) Switches() string {
	var sw []string
	for _, f := range c.Flags {
		sw = append(sw, f.Switches())
	}
	return strings.Join(sw, " ")
}

type completionData struct {
	Bin      string
	Shells   string
	Commands []completionCommand
	// Valued flags with fixed values, across all commands.
	Choices []completionFlag
}

// Names lists the commands for bash.
func (d completionData) Names() string {
	names := make([]string, len(d.Commands))
	for i, c := range d.Commands {
		names[i] = c.Name
	}
	return strings.Join(names, " ")
}

// newCompletionData describes root's subcommands and their flags.
func newCompletionData(root *cli.Command) completionData {
	d := completionData{Bin: root.Name, Shells: strings.Join(shells, " ")}
	seen := map[string]bool{}

	for _, sub := range root.Commands {
		if sub.Hidden || sub.Name == "help" {
			continue
		}

		c := completionCommand{Name: sub.Name, Usage: sub.Usage, Args: argKinds[sub.Name]}
		if c.Args == "" {
			c.Args = argCache
		}

		for _, fl := range sub.Flags {
			if fl.Names()[0] == "help" {
				continue
			}
			f := completionFlag{Names: fl.Names(), Values: flagChoices[fl.Names()[0]]}
			if doc, ok := fl.(interface {
				TakesValue() bool
				GetUsage() string
			}); ok {
				f.Valued = doc.TakesValue()
				f.Usage = doc.GetUsage()
			}
			c.Flags = append(c.Flags, f)

			if len(f.Values) > 0 && !seen[f.Names[0]] {
				seen[f.Names[0]] = true
				d.Choices = append(d.Choices, f)
			}
		}

		d.Commands = append(d.Commands, c)
	}

	return d
}

var bashCompletion = template.Must(template.New("bash").Parse(`# bash completion for {{.Bin}}
if ! declare -F _get_comp_words_by_ref >/dev/null 2>&1; then
  _get_comp_words_by_ref() {
    cur=${COMP_WORDS[COMP_CWORD]}
    prev=${COMP_WORDS[COMP_CWORD-1]}
  }
fi

_{{.Bin}}()
{
    local cur prev opts args
    COMPREPLY=()
    _get_comp_words_by_ref -n : cur prev

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "{{.Names}} --help --version" -- "$cur") )
        return 0
    fi

    case "$prev" in
{{- range .Choices}}
        {{.Case}})
            COMPREPLY=( $(compgen -W "{{range $i, $v := .Values}}{{if $i}} {{end}}{{$v}}{{end}}" -- "$cur") )
            return 0
            ;;
{{- end}}
    esac

    case "${COMP_WORDS[1]}" in
{{- range .Commands}}
        {{.Name}})
            opts="{{.Switches}}"
            args={{.Args}}
            ;;
{{- end}}
    esac

    if [[ "$cur" == -* ]]; then
        COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
        return 0
    fi

    case "$args" in
        dir)
            COMPREPLY=( $(compgen -o dirnames -- "$cur") ) ;;
        shell)
            COMPREPLY=( $(compgen -W "{{.Shells}}" -- "$cur") ) ;;
        *)
            COMPREPLY=( $(compgen -f -X '!*.dyncache' -o plusdirs -- "$cur") ) ;;
    esac
    return 0
}

complete -F _{{.Bin}} {{.Bin}}
`))

var zshCompletion = template.Must(template.New("zsh").Parse(`#compdef {{.Bin}}

_{{.Bin}}() {
  local -a cmds
  cmds=(
{{- range .Commands}}
    '{{.Describe}}'
{{- end}}
  )

  if (( CURRENT == 2 )); then
    _describe -t commands '{{.Bin}} commands' cmds
    return
  fi

  local curcontext="$curcontext" state line
  case $words[2] in
{{- range .Commands}}
    {{.Name}})
      _arguments -C \
{{- range .Flags}}
        {{.Zsh}} \
{{- end}}
{{- if eq .Args "dir"}}
        '::dir:_directories'
{{- else if eq .Args "shell"}}
        '1: :(({{$.Shells}}))'
{{- else}}
        '*:file:_files -g "*.dyncache"'
{{- end}}
      ;;
{{- end}}
  esac
}

# Sourced rather than autoloaded from fpath.
if ! typeset -f compdef >/dev/null 2>&1; then
  autoload -Uz compinit && compinit -i
fi
compdef _{{.Bin}} {{.Bin}}
`))

// CompletionCommandAction writes a completion script built from the
// command set. The shell defaults to the one named by $SHELL.
func CompletionCommandAction(ctx context.Context, cmd *cli.Command) error {
	shell := cmd.Args().First()
	if shell == "" {
		shell = filepath.Base(os.Getenv("SHELL"))
	}

	var tmpl *template.Template
	switch shell {
	case "bash":
		tmpl = bashCompletion
	case "zsh":
		tmpl = zshCompletion
	default:
		return errors.New("usage: dyncache completion [bash|zsh]")
	}

	return tmpl.Execute(writer(cmd), newCompletionData(cmd.Root()))
}

func CompletionCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "completion",
		Usage:     "generate shell completion script",
		UsageText: "dyncache completion [bash|zsh]",
		Metadata: map[string]any{
			"meta": meta,
		},
		Action: CompletionCommandAction,
	}
}
