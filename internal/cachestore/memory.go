// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"slices"
	"sync"
)

// Memory is a process-local Storage. Nothing survives a restart.
type Memory struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*memoryCache
}

func NewMemory() *Memory {
	return &Memory{caches: make(map[string]*memoryCache)}
}

func (m *Memory) Open(_ context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, entries: make(map[string]*Entry)}
	m.caches[name] = c
	m.order = append(m.order, name)
	return c, nil
}

func (m *Memory) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.caches[name]
	return ok, nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.caches[name]; !ok {
		return false, nil
	}
	delete(m.caches, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	return true, nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order), nil
}

func (m *Memory) Close() error { return nil }

type memoryCache struct {
	name    string
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(_ context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (c *memoryCache) Put(_ context.Context, key string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = keyed(key, e).Clone()
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false, nil
	}
	delete(c.entries, key)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order), nil
}
