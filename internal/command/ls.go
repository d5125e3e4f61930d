// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/cachestore"
	"github.com/staranto/pwacache/internal/meta"
)

// entryRow is one cached response as ls reports it.
type entryRow struct {
	Cache    string      `json:"cache"`
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Type     string      `json:"type"`
	Size     int         `json:"size"`
	StoredAt time.Time   `json:"stored_at"`
	Header   http.Header `json:"header,omitempty"`
}

// LsCommandAction lists the entries of the named caches, or of every cache
// when none are named.
func LsCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "ls") {
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

	names := cmd.Args().Slice()
	if len(names) == 0 {
		if names, err = store.Keys(ctx); err != nil {
			return err
		}
	}

	rows, err := listEntries(ctx, store, names)
	if err != nil {
		return err
	}

	attrs := BuildAttrs(cmd, "cache", "url", "status", "type", "size", "stored_at:stored")
	log.Debugf("attrs: %v", attrs)

	postProcess := func(dataset []map[string]interface{}) error {
		if cmd.Bool("chop") {
			chopPrefix(dataset, "url", "/")
		}
		return nil
	}

	return EmitRows(rows, attrs, cmd, postProcess)
}

func listEntries(ctx context.Context, store cachestore.Storage, names []string) ([]entryRow, error) {
	rows := []entryRow{}
	for _, name := range names {
		// Listing must not create the cache it looks at.
		ok, err := store.Has(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no cache named %q", name)
		}

		c, err := store.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			e, err := c.Match(ctx, k)
			if errors.Is(err, cachestore.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			rows = append(rows, entryRow{
				Cache:    name,
				URL:      e.URL,
				Status:   e.Status,
				Type:     e.ContentType(),
				Size:     len(e.Body),
				StoredAt: e.StoredAt.UTC().Truncate(time.Second),
				Header:   e.Header,
			})
		}
	}
	return rows, nil
}

// LsCommandBuilder constructs the cli.Command for "ls".
func LsCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list cached entries",
		UsageText: `pwacache ls [cache...] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "chop",
				Usage: "chop the common origin from urls",
				Sources: cli.NewValueSourceChain(
					yaml.YAML("ls.chop", altsrc.StringSourcer(meta.Config.Source)),
				),
				Value: false,
			},
			NewStoreFlag(),
			tldrFlag,
		}, NewGlobalFlags("ls")...),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, GlobalFlagsValidator(ctx, cmd)
		},
		Action: LsCommandAction,
	}
}

// chopPrefix finds common leading delim-separated segments in the given
// attribute of dataset values. If at least 50% of entries share at least 2
// common leading segments, those segments (and the trailing delim) are
// removed and replaced with "..".
func chopPrefix(dataset []map[string]interface{}, attribute, delim string) {
	if len(dataset) == 0 {
		return
	}

	// Collect all attribute values with their indices.
	type attributeEntry struct {
		idx   int
		value string
	}
	var attributeValues []attributeEntry
	for i, entry := range dataset {
		if val, ok := entry[attribute]; ok {
			if str, ok := val.(string); ok {
				attributeValues = append(attributeValues, attributeEntry{idx: i, value: str})
			}
		}
	}

	if len(attributeValues) == 0 {
		return
	}

	threshold := (len(attributeValues) + 1) / 2

	type segmentedValue struct {
		idx      int
		value    string
		segments []string
	}
	var segmented []segmentedValue
	maxSegments := 0
	for _, av := range attributeValues {
		segs := strings.Split(av.value, delim)
		segmented = append(segmented, segmentedValue{idx: av.idx, value: av.value, segments: segs})
		if len(segs) > maxSegments {
			maxSegments = len(segs)
		}
	}

	// Find the longest common prefix of segments that appears in at least 50%.
	var commonSegments []string
	for segIdx := 0; segIdx < maxSegments; segIdx++ {
		segmentCounts := make(map[string]int)
		for _, sv := range segmented {
			if segIdx < len(sv.segments) {
				segmentCounts[sv.segments[segIdx]]++
			}
		}

		var bestSegment string
		var bestCount int
		for seg, count := range segmentCounts {
			if count > bestCount {
				bestSegment = seg
				bestCount = count
			}
		}

		if bestCount < threshold {
			break
		}
		commonSegments = append(commonSegments, bestSegment)
	}

	if len(commonSegments) >= 2 {
		prefixToRemove := strings.Join(commonSegments, delim) + delim
		for _, sv := range segmented {
			if strings.HasPrefix(sv.value, prefixToRemove) {
				dataset[sv.idx][attribute] = ".." + sv.value[len(prefixToRemove):]
			}
		}
	}
}
