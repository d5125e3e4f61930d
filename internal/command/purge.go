// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/cachestore"
	"github.com/staranto/pwacache/internal/meta"
)

// PurgeCommandAction expires old entries from every cache except the
// current static cache, whose contents only change on install.
func PurgeCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "purge") {
		return nil
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	store, err := cachestore.Open(ctx, s.Store)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	maxAge := time.Duration(cmd.Int("hours")) * time.Hour
	res, err := cachestore.Expire(ctx, store, maxAge, s.StaticCache)
	if err != nil {
		return err
	}

	fmt.Fprintf(writer(cmd), "purged %s\n", res)
	return nil
}

// PurgeCommandBuilder constructs the cli.Command for "purge".
func PurgeCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "expire old cached entries",
		UsageText: `pwacache purge [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "hours",
				Usage: "remove entries stored more than this many hours ago, 0 disables",
				Sources: cli.NewValueSourceChain(
					yaml.YAML("purge.hours", altsrc.StringSourcer(meta.Config.Source)),
				),
				Value: 168,
				Validator: func(value int) error {
					return FlagValidators(value, NonNegativeValidator)
				},
			},
			NewStoreFlag(),
			tldrFlag,
		},
		Action: PurgeCommandAction,
	}
}
