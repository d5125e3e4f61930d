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

// ActivateCommandAction deletes every cache that is neither the current
// static nor the current dynamic cache.
func ActivateCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "activate") {
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

	w := writer(cmd)

	if cmd.Bool("dry-run") {
		names, err := rt.ctrl.Obsolete(ctx)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintf(w, "would delete %s\n", n)
		}
		return nil
	}

	deleted, err := rt.ctrl.Activate(ctx)
	for _, n := range deleted {
		fmt.Fprintf(w, "deleted %s\n", n)
	}
	return err
}

// ActivateCommandBuilder constructs the cli.Command for "activate".
func ActivateCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "activate",
		Usage:     "delete obsolete caches",
		UsageText: `pwacache activate [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "list the caches that would be deleted",
			},
			NewStoreFlag(),
			tldrFlag,
		},
		Action: ActivateCommandAction,
	}
}
