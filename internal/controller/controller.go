// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/staranto/pwacache/internal/cachestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// SourceHeader tells the client where a response came from: network, cache,
// offline, passthrough or queued.
const SourceHeader = "X-Pwacache-Source"

const (
	SourceNetwork     = "network"
	SourceCache       = "cache"
	SourceOffline     = "offline"
	SourcePassthrough = "passthrough"
	SourceQueued      = "queued"
)

// Fetcher performs a request against the network. Any HTTP status is a
// response; an error means no response was obtained at all.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cachestore.Entry, error)
}

// Outbox accepts form submissions that could not reach the network.
type Outbox interface {
	Matches(path string) bool
	Enqueue(ctx context.Context, req *http.Request, body []byte) (string, error)
}

// Options are the controller's fixed configuration.
type Options struct {
	// Origin is the site's own scheme://host. Requests without a host are
	// resolved against it.
	Origin       string
	StaticCache  string
	DynamicCache string
	// StaticAssets are same-origin paths installed up front and served
	// cache-first.
	StaticAssets []string
	// ExternalPrefixes select third-party URLs served stale-while-revalidate.
	ExternalPrefixes []string
	// RootDocument is served to navigations that fail with nothing cached.
	RootDocument string
	// NetworkTimeout bounds each fetch. Zero means no limit.
	NetworkTimeout time.Duration
	// ExternalMount is a same-origin path prefix under which third-party
	// URLs are addressed as <mount><host>/<path>, so a page can route them
	// through the controller without proxy settings. Only URLs matching
	// ExternalPrefixes are reachable this way. Empty disables it.
	ExternalMount string
	// MaxRequestBody caps passed-through request bodies. Zero means no limit.
	MaxRequestBody int64

	// Outbox is optional.
	Outbox Outbox
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

type state int32

const (
	stateNew state = iota
	stateInstalled
	stateActive
)

// Controller intercepts requests and answers them from the caches in store
// and from fetch.
type Controller struct {
	opts   Options
	origin *url.URL
	static map[string]struct{}

	store  cachestore.Storage
	fetch  Fetcher
	tracer trace.Tracer

	state atomic.Int32

	group   singleflight.Group
	pending sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

// New returns a controller for o that has not been installed yet. Until it is
// installed and activated every request passes straight through.
func New(o Options, store cachestore.Storage, fetch Fetcher) (*Controller, error) {
	if store == nil || fetch == nil {
		return nil, errors.New("controller requires a store and a fetcher")
	}
	origin, err := url.Parse(o.Origin)
	if err != nil || origin.Host == "" || (origin.Scheme != "http" && origin.Scheme != "https") {
		return nil, fmt.Errorf("invalid origin %q", o.Origin)
	}
	if o.StaticCache == "" || o.DynamicCache == "" || o.StaticCache == o.DynamicCache {
		return nil, fmt.Errorf("static and dynamic cache names must be set and differ (%q, %q)",
			o.StaticCache, o.DynamicCache)
	}
	if o.RootDocument == "" {
		o.RootDocument = "/"
	}
	if o.ExternalMount != "" {
		o.ExternalMount = "/" + strings.Trim(o.ExternalMount, "/") + "/"
		if o.ExternalMount == "//" {
			return nil, errors.New("external mount cannot be the site root")
		}
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}

	static := make(map[string]struct{}, len(o.StaticAssets))
	for _, p := range o.StaticAssets {
		static[p] = struct{}{}
	}

	return &Controller{
		opts:   o,
		origin: &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		static: static,
		store:  store,
		fetch:  fetch,
		tracer: o.TracerProvider.Tracer("github.com/staranto/pwacache/internal/controller"),
	}, nil
}

// Installed reports whether Install completed.
func (c *Controller) Installed() bool {
	return state(c.state.Load()) >= stateInstalled
}

// Active reports whether the controller has claimed clients. Until then
// every request is passed straight through.
func (c *Controller) Active() bool {
	return state(c.state.Load()) == stateActive
}

// Claim starts intercepting requests.
func (c *Controller) Claim() {
	c.state.Store(int32(stateActive))
	log.Debug("controller claimed clients")
}

// Wait blocks until all background revalidations started so far are done.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// Close stops new revalidations from starting and drains the ones in flight.
// It does not close the store.
func (c *Controller) Close() error {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()
	c.pending.Wait()
	return nil
}

// withTimeout applies NetworkTimeout to ctx.
func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.NetworkTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.NetworkTimeout)
	}
	return ctx, func() {}
}

// fetchURL sends r to u. Credentials a browser attached for the site itself
// never follow a mounted request to a third party.
func (c *Controller) fetchURL(ctx context.Context, r *http.Request, u *url.URL) (*cachestore.Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := r.Clone(ctx)
	out.URL = u
	out.Host = u.Host
	out.RequestURI = ""
	if r.URL.Host == "" && !c.sameOrigin(u) {
		out.Header.Del("Cookie")
		out.Header.Del("Authorization")
	}
	return c.fetch.Fetch(ctx, out)
}

// partialHeaders ask the network for less than the full representation: a
// 304 against the client's copy or a byte range.
var partialHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// fetchFull fetches the complete representation of u, whatever the client
// already holds, so the answer is fit for a cache shared by every client.
func (c *Controller) fetchFull(ctx context.Context, r *http.Request, u *url.URL) (*cachestore.Entry, error) {
	full := r.Clone(ctx)
	for _, h := range partialHeaders {
		full.Header.Del(h)
	}
	return c.fetchURL(ctx, full, u)
}

func (c *Controller) openCache(ctx context.Context, name string) (cachestore.Cache, error) {
	cache, err := c.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", name, err)
	}
	return cache, nil
}

// put stores a shareable copy of e under key in the named cache, unless e is
// not storable. Failures are logged and never returned, a failed write must
// not break the response.
func (c *Controller) put(ctx context.Context, name, key string, e *cachestore.Entry) {
	if !e.Storable() {
		log.WithField("status", e.Status).Debugf("not storing %s", key)
		return
	}
	cache, err := c.openCache(ctx, name)
	if err == nil {
		err = cache.Put(ctx, key, e.Shareable())
	}
	if err != nil {
		log.WithError(err).WithField("cache", name).Warnf("failed to store %s", key)
	}
}

// matchAny searches every cache. Store errors count as a miss.
func (c *Controller) matchAny(ctx context.Context, key string) *cachestore.Entry {
	e, _, err := cachestore.MatchAny(ctx, c.store, key)
	if err != nil {
		if !errors.Is(err, cachestore.ErrNotFound) {
			log.WithError(err).Warnf("cache lookup failed for %s", key)
		}
		return nil
	}
	return e
}

// matchIn searches a single cache. Store errors count as a miss.
func (c *Controller) matchIn(ctx context.Context, name, key string) *cachestore.Entry {
	cache, err := c.openCache(ctx, name)
	if err == nil {
		var e *cachestore.Entry
		if e, err = cache.Match(ctx, key); err == nil {
			return e
		}
	}
	if !errors.Is(err, cachestore.ErrNotFound) {
		log.WithError(err).WithField("cache", name).Warnf("cache lookup failed for %s", key)
	}
	return nil
}
