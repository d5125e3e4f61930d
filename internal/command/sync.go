// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/meta"
	"github.com/staranto/pwacache/internal/network"
	"github.com/staranto/pwacache/internal/outbox"
)

type submissionRow struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	QueuedAt    time.Time `json:"queued_at"`
	Attempts    int       `json:"attempts"`
}

// SyncCommandAction replays queued form submissions once, or lists them with
// --list.
func SyncCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "sync") {
		return nil
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	store, err := openOutboxStore(ctx, s)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	q, err := outbox.New(ctx, store, s.Sync.Paths)
	if err != nil {
		return err
	}

	if cmd.Bool("list") {
		subs, err := q.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]submissionRow, 0, len(subs))
		for _, sub := range subs {
			rows = append(rows, submissionRow{
				ID:          sub.ID,
				Method:      sub.Method,
				URL:         sub.URL,
				ContentType: sub.ContentType,
				Size:        len(sub.Body),
				QueuedAt:    sub.QueuedAt.UTC().Truncate(time.Second),
				Attempts:    sub.Attempts,
			})
		}
		attrs := BuildAttrs(cmd, "id", "url", "queued_at:queued", "attempts")
		return EmitRows(rows, attrs, cmd, nil)
	}

	client, err := network.New(network.Options{
		Origin:   s.Origin,
		Upstream: s.Upstream,
		Retries:  s.Network.Retries,
		MaxBody:  s.Network.MaxBody,
	})
	if err != nil {
		return err
	}

	res, err := q.Sync(ctx, client)
	if err != nil {
		return err
	}
	fmt.Fprintf(writer(cmd), "%s\n", res)
	return nil
}

// SyncCommandBuilder constructs the cli.Command for "sync".
func SyncCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "replay queued form submissions",
		UsageText: `pwacache sync [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "list",
				Usage: "list queued submissions instead of sending them",
			},
			NewStoreFlag(),
			tldrFlag,
		}, NewGlobalFlags("sync")...),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, cmd)
		},
		Action: SyncCommandAction,
	}
}
