// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"

	"github.com/staranto/dyncache/internal/command"
	"github.com/staranto/dyncache/internal/config"
	mylog "github.com/staranto/dyncache/internal/log"
	"github.com/staranto/dyncache/internal/version"
)

var ctx = context.Background()

func main() {
	os.Exit(realMain())
}

func realMain() int {
	mylog.InitLogger()

	args := os.Args

	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "No command specified.")
		args = append(args, "--help")
	} else {
		args = mangleArguments(args)
	}

	// Short-circuit --version/-v.
	for _, a := range args {
		if a == "--version" || a == "-v" {
			fmt.Println(version.Version)
			return 0
		}
	}

	app, err := command.InitApp(ctx, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := app.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	return 0
}

// mangleArguments splices a named argument set from the config file in right
// after the command. "@name" on the command line picks <command>.name,
// otherwise <command>.defaults is used when present.
func mangleArguments(args []string) []string {
	// We know the first two args are going to be the executable and command.
	preamble := make([]string, 2)
	copy(preamble, args[:2])

	// Short-circuit for --help/-h. If help is requested, just keep the preamble
	// and add --help flag.
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return append(preamble, "--help")
		}
	}

	set := "defaults"
	rest := make([]string, 0, len(args)-2)
	for _, a := range args[2:] {
		if strings.HasPrefix(a, "@") && set == "defaults" {
			set = a[1:]
			continue
		}
		rest = append(rest, a)
	}

	var setArgs []string
	lines, _ := config.GetStringSlice(args[1] + "." + set)
	for _, line := range lines {
		setArgs = append(setArgs, strings.Fields(line)...)
	}

	mangled := append(preamble, setArgs...) //nolint:gocritic
	mangled = append(mangled, rest...)

	log.Debugf("set=%s, args=%v", set, mangled)
	return mangled
}
