// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/apex/log"
	"github.com/staranto/pwacache/internal/cachestore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// installConcurrency caps parallel asset fetches during Install.
const installConcurrency = 4

// Install fetches every static asset and stores them in the static cache.
// Nothing is stored unless every asset answered with a full 2xx body, and a
// failed write restores what the cache held before.
func (c *Controller) Install(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "pwacache.install")
	defer span.End()

	entries := make([]*cachestore.Entry, len(c.opts.StaticAssets))
	keys := make([]string, len(c.opts.StaticAssets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, p := range c.opts.StaticAssets {
		u := c.origin.ResolveReference(&url.URL{Path: p})
		keys[i] = u.String()
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return err
			}
			e, err := c.fetchURL(gctx, req, u)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", p, err)
			}
			if !e.OK() || e.Status == http.StatusPartialContent {
				return fmt.Errorf("failed to fetch %s: status %d", p, e.Status)
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "install failed")
		return fmt.Errorf("install: %w", err)
	}

	existed, err := c.store.Has(ctx, c.opts.StaticCache)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	cache, err := c.openCache(ctx, c.opts.StaticCache)
	if err != nil {
		return fmt.Errorf("install: %w", err)
	}
	var written []prior
	for i, e := range entries {
		p := prior{key: keys[i]}
		if p.entry, err = cache.Match(ctx, keys[i]); err != nil && !errors.Is(err, cachestore.ErrNotFound) {
			log.WithError(err).Warnf("failed to read %s before install", keys[i])
		}
		if err := cache.Put(ctx, keys[i], e.Shareable()); err != nil {
			c.rollback(ctx, cache, existed, written)
			span.RecordError(err)
			span.SetStatus(codes.Error, "install failed")
			return fmt.Errorf("install: failed to store %s: %w", keys[i], err)
		}
		written = append(written, p)
	}

	span.SetAttributes(attribute.Int("pwacache.assets", len(entries)))
	log.Infof("installed %d static assets into %s", len(entries), c.opts.StaticCache)

	c.state.CompareAndSwap(int32(stateNew), int32(stateInstalled))
	return nil
}

// prior is what a key held before Install overwrote it. A nil entry means
// the key was new.
type prior struct {
	key   string
	entry *cachestore.Entry
}

// rollback undoes the writes of a failed Install, leaving entries stored by
// other writers alone. A cache Install created is removed outright.
func (c *Controller) rollback(ctx context.Context, cache cachestore.Cache, existed bool, written []prior) {
	if !existed {
		if _, err := c.store.Delete(ctx, cache.Name()); err != nil {
			log.WithError(err).Warnf("failed to remove partial cache %s", cache.Name())
		}
		return
	}
	for i := len(written) - 1; i >= 0; i-- {
		p := written[i]
		var err error
		if p.entry != nil {
			err = cache.Put(ctx, p.key, p.entry)
		} else {
			_, err = cache.Delete(ctx, p.key)
		}
		if err != nil {
			log.WithError(err).WithField("cache", cache.Name()).Warnf("failed to roll back %s", p.key)
		}
	}
}

// Obsolete lists the caches Activate would delete.
func (c *Controller) Obsolete(ctx context.Context) ([]string, error) {
	names, err := c.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	var obsolete []string
	for _, n := range names {
		if n != c.opts.StaticCache && n != c.opts.DynamicCache {
			obsolete = append(obsolete, n)
		}
	}
	return obsolete, nil
}

// Activate deletes every cache that belongs to neither current version and
// then claims clients. It returns the names it deleted. Clients are not
// claimed when a deletion fails.
func (c *Controller) Activate(ctx context.Context) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "pwacache.activate")
	defer span.End()

	obsolete, err := c.Obsolete(ctx)
	if err != nil {
		return nil, err
	}

	var (
		deleted []string
		errs    []error
	)
	for _, n := range obsolete {
		if _, err := c.store.Delete(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete cache %s: %w", n, err))
			continue
		}
		log.Infof("deleted obsolete cache %s", n)
		deleted = append(deleted, n)
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activate failed")
		return deleted, err
	}

	span.SetAttributes(attribute.StringSlice("pwacache.deleted", deleted))
	c.Claim()
	return deleted, nil
}
