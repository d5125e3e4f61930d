// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/meta"
)

// InstallCommandAction pre-caches the static assets into the current static
// cache.
func InstallCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "install") {
		return nil
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, s)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck

	if err := rt.ctrl.Install(ctx); err != nil {
		return err
	}

	fmt.Fprintf(writer(cmd), "installed %d assets into %s\n", len(s.Assets.Static), s.StaticCache)
	return nil
}

// InstallCommandBuilder constructs the cli.Command for "install".
func InstallCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "install",
		Usage:     "pre-cache the static assets",
		UsageText: `pwacache install [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			NewStoreFlag(),
			tldrFlag,
		},
		Action: InstallCommandAction,
	}
}
