// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
)

// ExpireResult summarizes an Expire run.
type ExpireResult struct {
	Removed int
	Bytes   int64
}

func (r ExpireResult) String() string {
	return fmt.Sprintf("%d entries, %s", r.Removed, humanize.Bytes(uint64(r.Bytes))) //nolint:gosec
}

// Expire deletes entries stored more than maxAge ago from every cache in s
// except those named in keep. A maxAge <= 0 is a no-op.
func Expire(ctx context.Context, s Storage, maxAge time.Duration, keep ...string) (ExpireResult, error) {
	var result ExpireResult

	if maxAge <= 0 {
		log.Debug("cache expiry disabled")
		return result, nil
	}

	names, err := s.Keys(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list caches: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		c, err := s.Open(ctx, name)
		if err != nil {
			return result, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list %s: %w", name, err)
		}
		for _, k := range keys {
			e, err := c.Match(ctx, k)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				log.WithError(err).Warnf("failed to read %s from %s", k, name)
				continue
			}
			if !e.StoredAt.Before(cutoff) {
				continue
			}
			if removed, err := c.Delete(ctx, k); err != nil {
				log.WithError(err).Warnf("failed to expire %s from %s", k, name)
			} else if removed {
				result.Removed++
				result.Bytes += int64(len(e.Body))
				log.Debugf("expired %s from %s", k, name)
			}
		}
	}

	log.Debugf("expired %s", result)
	return result, nil
}
