// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"

	"github.com/staranto/pwacache/internal/cacheutil"
	"github.com/staranto/pwacache/internal/command"
	"github.com/staranto/pwacache/internal/config"
	mylog "github.com/staranto/pwacache/internal/log"
	"github.com/staranto/pwacache/internal/version"
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

	// Best-effort: pre-create cache directory when caching is enabled.
	if _, ok, err := cacheutil.EnsureBaseDir(); err != nil && ok {
		// Non-fatal: print to stderr and continue.
		fmt.Fprintln(os.Stderr, err)
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

// mangleArguments expands an @set argument into the args listed under
// <command>.<set> in the config file. Without an explicit @set, the
// <command>.defaults set is used when it exists.
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

	// Flags after the command are positional-agnostic, so a set is always
	// spliced in right after the command name.
	set := "defaults"
	explicit := false
	rest := make([]string, 0, len(args)-2)
	for _, a := range args[2:] {
		if strings.HasPrefix(a, "@") && len(a) > 1 && !explicit {
			set, explicit = a[1:], true
			continue
		}
		rest = append(rest, a)
	}

	setArgs, _ := config.GetStringSlice(args[1] + "." + set)
	var expanded []string
	for _, arg := range setArgs {
		expanded = append(expanded, strings.Fields(arg)...)
	}

	out := append(preamble, expanded...) //nolint:gocritic
	out = append(out, rest...)

	log.Debugf("set=%s, args=%v", set, out)
	return out
}
