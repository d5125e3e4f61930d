// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/config"
	"github.com/staranto/pwacache/internal/meta"
	"github.com/staranto/pwacache/internal/version"
)

func InitApp(ctx context.Context, args []string) (*cli.Command, error) {
	sd, _ := os.Getwd()

	// The arg[1] immediately following the binary (arg[0]) is the pwacache
	// subcommand and also represents the namespace key to be used when
	// retrieving config values. arg[1] could be -h/--help, so ignore it if it
	// appears to be a flag.
	var ns string
	if len(args) > 1 && !strings.HasPrefix(args[1], "-") {
		ns = args[1]
	}

	// A missing config file is fine, everything has a default.
	cfg, _ := config.Load(ns)
	meta := meta.Meta{
		Args:        args,
		Config:      cfg,
		Context:     ctx,
		Version:     version.Version,
		StartingDir: sd,
	}

	app := &cli.Command{
		Name:  "pwacache",
		Usage: "offline-first cache controller",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "version",
				Aliases:     []string{"v"},
				Usage:       "pwacache version info",
				HideDefault: true,
			},
		},
	}

	app.Commands = append(app.Commands,
		ActivateCommandBuilder(app, meta),
		CachesCommandBuilder(app, meta),
		CompletionCommandBuilder(app, meta),
		InstallCommandBuilder(app, meta),
		LsCommandBuilder(app, meta),
		PurgeCommandBuilder(app, meta),
		ServeCommandBuilder(app, meta),
		SyncCommandBuilder(app, meta),
	)

	// Make sure flags are sorted for the --help text.
	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}

	return app, nil
}
