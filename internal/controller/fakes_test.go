// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/staranto/pwacache/internal/cachestore"
)

const origin = "https://miamiparadise.studio"

var errOffline = errors.New("dial tcp: network is unreachable")

// fakeFetcher serves canned bodies by absolute URL. Unknown URLs are 404.
type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	offline bool
	calls   map[string]int
	// extra response headers and the request headers last seen, by URL.
	header map[string]http.Header
	seen   map[string]http.Header
	// gate, when set, blocks every fetch until closed or ctx is done.
	gate chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string]string{},
		status: map[string]int{},
		calls:  map[string]int{},
		header: map[string]http.Header{},
		seen:   map[string]http.Header{},
	}
}

func (f *fakeFetcher) setHeader(url, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.header[url] == nil {
		f.header[url] = http.Header{}
	}
	f.header[url].Add(key, value)
}

func (f *fakeFetcher) lastHeader(url string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[url]
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *fakeFetcher) setStatus(url string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[url] = code
}

func (f *fakeFetcher) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *http.Request) (*cachestore.Entry, error) {
	key := req.URL.String()

	f.mu.Lock()
	f.calls[key]++
	f.seen[key] = req.Header.Clone()
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errOffline
	}
	body, ok := f.bodies[key]
	code := http.StatusOK
	if !ok {
		code = http.StatusNotFound
		body = "not found"
	}
	if c, ok := f.status[key]; ok {
		code = c
	}
	header := http.Header{"Content-Type": {"text/html; charset=utf-8"}}
	for k, vv := range f.header[key] {
		header[k] = append([]string(nil), vv...)
	}
	return &cachestore.Entry{
		URL:      key,
		Status:   code,
		Header:   header,
		Body:     []byte(body),
		StoredAt: time.Now().UTC(),
	}, nil
}

// brokenStore wraps a Storage so that writes, and optionally reads, fail.
type brokenStore struct {
	cachestore.Storage
	failReads bool
}

func (b *brokenStore) Open(ctx context.Context, name string) (cachestore.Cache, error) {
	c, err := b.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &brokenCache{Cache: c, failReads: b.failReads}, nil
}

type brokenCache struct {
	cachestore.Cache
	failReads bool
}

var errQuota = errors.New("quota exceeded")

func (b *brokenCache) Put(context.Context, string, *cachestore.Entry) error { return errQuota }

func (b *brokenCache) Match(ctx context.Context, key string) (*cachestore.Entry, error) {
	if b.failReads {
		return nil, errors.New("store corrupted")
	}
	return b.Cache.Match(ctx, key)
}

// refusingStore fails writes of one key and accepts everything else.
type refusingStore struct {
	cachestore.Storage
	refuse string
}

func (s *refusingStore) Open(ctx context.Context, name string) (cachestore.Cache, error) {
	c, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &refusingCache{Cache: c, refuse: s.refuse}, nil
}

type refusingCache struct {
	cachestore.Cache
	refuse string
}

func (r *refusingCache) Put(ctx context.Context, key string, e *cachestore.Entry) error {
	if key == r.refuse {
		return errQuota
	}
	return r.Cache.Put(ctx, key, e)
}

// fakeOutbox records queued submissions.
type fakeOutbox struct {
	mu     sync.Mutex
	paths  map[string]bool
	queued [][]byte
	fail   error
}

func (o *fakeOutbox) Matches(path string) bool { return o.paths[path] }

func (o *fakeOutbox) Enqueue(_ context.Context, _ *http.Request, body []byte) (string, error) {
	if o.fail != nil {
		return "", o.fail
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued = append(o.queued, body)
	return "a0f5b8e2-0000-4000-8000-000000000001", nil
}
