// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/staranto/pwacache/internal/cacheutil"
)

// markerFile sits in every cache directory. Its content is the creation time,
// which gives Storage.Keys a stable order across restarts.
const markerFile = ".created"

// Disk keeps one directory per cache under Root. Each entry is a JSON file
// named by the MD5 of its URL.
type Disk struct {
	Root string

	mu sync.Mutex
}

// NewDisk creates root if needed.
func NewDisk(root string) (*Disk, error) {
	if root == "" {
		return nil, errors.New("disk store requires a directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Disk{Root: root}, nil
}

func (d *Disk) Open(_ context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.Root, name)
	marker := filepath.Join(dir, markerFile)
	if _, err := os.Stat(marker); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		stamp := time.Now().UTC().Format(time.RFC3339Nano)
		if err := os.WriteFile(marker, []byte(stamp), 0o600); err != nil { //nolint:mnd
			return nil, fmt.Errorf("failed to write cache marker: %w", err)
		}
		log.Debugf("created cache %s", dir)
	} else if err != nil {
		return nil, err
	}

	return &diskCache{name: name, dir: dir}, nil
}

func (d *Disk) Has(_ context.Context, name string) (bool, error) {
	if ValidateName(name) != nil {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(d.Root, name, markerFile))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (d *Disk) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := d.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(d.Root, name)); err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	return true, nil
}

func (d *Disk) Keys(_ context.Context) ([]string, error) {
	dirents, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type named struct {
		name    string
		created time.Time
	}
	var found []named
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		stamp, err := os.ReadFile(filepath.Join(d.Root, de.Name(), markerFile))
		if err != nil {
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(stamp)))
		found = append(found, named{name: de.Name(), created: created})
	}

	slices.SortStableFunc(found, func(a, b named) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return strings.Compare(a.name, b.name)
	})

	names := make([]string, 0, len(found))
	for _, f := range found {
		names = append(names, f.name)
	}
	return names, nil
}

func (d *Disk) Close() error { return nil }

type diskCache struct {
	name string
	dir  string
}

func (c *diskCache) Name() string { return c.name }

func (c *diskCache) path(key string) string {
	return filepath.Join(c.dir, cacheutil.EncodeKey(key)+".json")
}

func (c *diskCache) Match(_ context.Context, key string) (*Entry, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache entry for %s: %w", key, err)
	}
	return &e, nil
}

func (c *diskCache) Put(_ context.Context, key string, e *Entry) error {
	data, err := json.Marshal(keyed(key, e))
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	// Write to a temp file first so a concurrent Match never sees a torn entry.
	tmp, err := os.CreateTemp(c.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

func (c *diskCache) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(c.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Keys returns the entry URLs ordered by when they were last written.
func (c *diskCache) Keys(_ context.Context) ([]string, error) {
	dirents, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, de.Name()))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			log.WithError(err).Warnf("skipping corrupt cache entry %s", de.Name())
			continue
		}
		e.Body = nil
		entries = append(entries, e)
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := a.StoredAt.Compare(b.StoredAt); c != 0 {
			return c
		}
		return strings.Compare(a.URL, b.URL)
	})

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.URL)
	}
	return keys, nil
}
