// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/cachestore"
	"github.com/staranto/pwacache/internal/config"
	"github.com/staranto/pwacache/internal/meta"
)

type cacheRow struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Size    int64  `json:"size"`
	Role    string `json:"role"`
}

// CachesCommandAction lists the caches in the store with their size and
// whether the current version still uses them.
func CachesCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "caches") {
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

	rows, err := listCaches(ctx, store, s)
	if err != nil {
		return err
	}

	attrs := BuildAttrs(cmd, "name", "entries", "size::h", "role")
	log.Debugf("attrs: %v", attrs)

	return EmitRows(rows, attrs, cmd, nil)
}

func cacheRole(s config.Settings, name string) string {
	switch name {
	case s.StaticCache:
		return "static"
	case s.DynamicCache:
		return "dynamic"
	}
	return "obsolete"
}

func listCaches(ctx context.Context, store cachestore.Storage, s config.Settings) ([]cacheRow, error) {
	names, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]cacheRow, 0, len(names))
	for _, name := range names {
		c, err := store.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, err
		}
		row := cacheRow{Name: name, Entries: len(keys), Role: cacheRole(s, name)}
		for _, k := range keys {
			e, err := c.Match(ctx, k)
			if errors.Is(err, cachestore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			row.Size += int64(len(e.Body))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CachesCommandBuilder constructs the cli.Command for "caches".
func CachesCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "caches",
		Usage:     "list caches",
		UsageText: `pwacache caches [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append([]cli.Flag{
			NewStoreFlag(),
			tldrFlag,
		}, NewGlobalFlags("caches")...),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, cmd)
		},
		Action: CachesCommandAction,
	}
}
