// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Cache.Match when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidName is returned when a cache name cannot be stored safely.
	ErrInvalidName = errors.New("invalid cache name")
)

// Entry is a stored response. Entries are keyed by the absolute request URL.
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK reports whether the status is 2xx.
func (e *Entry) OK() bool {
	return e != nil && e.Status >= 200 && e.Status < 300
}

// Storable reports whether e may be kept as the full answer for its URL. A
// partial body (206) is not, and neither is anything the origin marked
// no-store or private.
func (e *Entry) Storable() bool {
	if !e.OK() || e.Status == http.StatusPartialContent {
		return false
	}
	for _, v := range e.Header.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(d), "=")
			switch strings.ToLower(name) {
			case "no-store", "private":
				return false
			}
		}
	}
	return true
}

// Shareable returns a copy of e without per-user headers, suitable for
// serving to any client later.
func (e *Entry) Shareable() *Entry {
	c := e.Clone()
	if c != nil {
		c.Header.Del("Set-Cookie")
		c.Header.Del("Set-Cookie2")
	}
	return c
}

// Clone returns a deep copy so a stored entry and a served entry never share
// header maps or body bytes.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// ContentType returns the media type without parameters.
func (e *Entry) ContentType() string {
	if e == nil || e.Header == nil {
		return ""
	}
	ct := e.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// Cache is a single named cache: URL -> Entry, last write wins.
type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of named caches available to the controller.
type Storage interface {
	// Open returns the named cache, creating it when it does not exist.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and all of its entries. It reports
	// whether a cache was removed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys returns the cache names in creation order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// MatchAny looks the key up in every cache in Keys order and returns the
// first hit together with the name of the cache that held it.
func MatchAny(ctx context.Context, s Storage, key string) (*Entry, string, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list caches: %w", err)
	}

	for _, name := range names {
		c, err := s.Open(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open cache %s: %w", name, err)
		}
		e, err := c.Match(ctx, key)
		if err == nil {
			return e, name, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
	}

	return nil, "", ErrNotFound
}

// keyed returns e with URL set to key, copying only when they differ.
func keyed(key string, e *Entry) *Entry {
	if e.URL == key {
		return e
	}
	c := *e
	c.URL = key
	return &c
}

// ValidateName rejects names that would escape a directory or object prefix.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
