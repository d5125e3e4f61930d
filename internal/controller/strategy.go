// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/staranto/pwacache/internal/cachestore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Offline is the synthetic response used when neither cache nor network can
// answer.
func Offline(key string) *cachestore.Entry {
	return &cachestore.Entry{
		URL:    key,
		Status: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type": {"text/plain; charset=utf-8"},
			SourceHeader:   {SourceOffline},
		},
		Body:     []byte("Offline"),
		StoredAt: time.Now().UTC(),
	}
}

// tag returns a copy of e marked with its source. Entries may be shared with
// a background store, so they are never modified in place.
func tag(e *cachestore.Entry, source string) *cachestore.Entry {
	c := e.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Header.Set(SourceHeader, source)
	return c
}

// cacheFirst answers from any cache, else from the network, storing storable
// network responses in the static cache.
func (c *Controller) cacheFirst(ctx context.Context, r *http.Request, u *url.URL) *cachestore.Entry {
	key := u.String()
	if e := c.matchAny(ctx, key); e != nil {
		return tag(e, SourceCache)
	}

	e, err := c.fetchFull(ctx, r, u)
	if err != nil {
		log.WithError(err).Warnf("cache-first fetch failed for %s", key)
		return Offline(key)
	}
	c.put(ctx, c.opts.StaticCache, key, e)
	return tag(e, SourceNetwork)
}

// networkFirst answers from the network, storing storable responses in the
// dynamic cache. When the network fails it falls back to any cached copy, then to the
// root document for navigations, then to Offline.
func (c *Controller) networkFirst(ctx context.Context, r *http.Request, u *url.URL) *cachestore.Entry {
	key := u.String()

	e, err := c.fetchFull(ctx, r, u)
	if err == nil {
		c.put(ctx, c.opts.DynamicCache, key, e)
		return tag(e, SourceNetwork)
	}
	log.WithError(err).Debugf("network failed, trying cache for %s", key)

	if cached := c.matchAny(ctx, key); cached != nil {
		return tag(cached, SourceCache)
	}
	if IsNavigation(r) {
		root := c.origin.ResolveReference(&url.URL{Path: c.opts.RootDocument}).String()
		if cached := c.matchAny(ctx, root); cached != nil {
			return tag(cached, SourceCache)
		}
	}
	return Offline(key)
}

// staleWhileRevalidate answers from the dynamic cache when it can and always
// refreshes the entry in the background. With nothing cached it waits for the
// network.
func (c *Controller) staleWhileRevalidate(ctx context.Context, r *http.Request, u *url.URL) *cachestore.Entry {
	key := u.String()
	cached := c.matchIn(ctx, c.opts.DynamicCache, key)

	done := c.revalidate(ctx, r, u)
	if cached != nil {
		return tag(cached, SourceCache)
	}
	if done == nil {
		// Closing: no background work, fetch in the foreground instead.
		e, err := c.fetchFull(ctx, r, u)
		if err != nil {
			return Offline(key)
		}
		c.put(ctx, c.opts.DynamicCache, key, e)
		return tag(e, SourceNetwork)
	}

	select {
	case res := <-done:
		if res.err != nil {
			return Offline(key)
		}
		return tag(res.entry, SourceNetwork)
	case <-ctx.Done():
		return Offline(key)
	}
}

type revalidation struct {
	entry *cachestore.Entry
	err   error
}

// revalidate refreshes the dynamic entry for u in the background. Concurrent
// calls for the same URL share one fetch. The returned channel yields the
// outcome once; it is nil when the controller is closing.
func (c *Controller) revalidate(ctx context.Context, r *http.Request, u *url.URL) <-chan revalidation {
	c.closeMu.RLock()
	if c.closed {
		c.closeMu.RUnlock()
		return nil
	}
	c.pending.Add(1)
	c.closeMu.RUnlock()

	key := u.String()
	detached := context.WithoutCancel(ctx)
	// DoChan joins an in-flight call before returning, so callers that
	// arrive while a fetch is running never start another.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.refresh(detached, r, u)
	})

	out := make(chan revalidation, 1)
	go func() {
		defer c.pending.Done()
		res := <-ch
		if res.Shared {
			log.Debugf("revalidation of %s coalesced", key)
		}
		e, _ := res.Val.(*cachestore.Entry)
		out <- revalidation{entry: e, err: res.Err}
	}()

	return out
}

func (c *Controller) refresh(ctx context.Context, r *http.Request, u *url.URL) (*cachestore.Entry, error) {
	key := u.String()
	ctx, span := c.tracer.Start(ctx, "pwacache.revalidate",
		trace.WithAttributes(attribute.String("url.full", key)))
	defer span.End()

	e, err := c.fetchFull(ctx, r, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revalidation failed")
		log.WithError(err).Warnf("revalidation failed for %s", key)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", e.Status))
	if !e.OK() {
		span.SetStatus(codes.Error, http.StatusText(e.Status))
	}
	c.put(ctx, c.opts.DynamicCache, key, e)
	return e, nil
}
