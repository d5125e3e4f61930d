// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpire(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			static, err := s.Open(ctx, "static-v1")
			require.NoError(t, err)
			dynamic, err := s.Open(ctx, "dynamic-v1")
			require.NoError(t, err)

			old := entry("https://example.test/old", 200, "stale bytes")
			old.StoredAt = time.Now().Add(-48 * time.Hour)
			fresh := entry("https://example.test/fresh", 200, "fresh")

			require.NoError(t, static.Put(ctx, old.URL, old))
			require.NoError(t, dynamic.Put(ctx, old.URL, old))
			require.NoError(t, dynamic.Put(ctx, fresh.URL, fresh))

			result, err := Expire(ctx, s, 24*time.Hour, "static-v1")
			require.NoError(t, err)
			assert.Equal(t, 1, result.Removed)
			assert.Equal(t, int64(len("stale bytes")), result.Bytes)
			assert.Equal(t, "1 entries, 11 B", result.String())

			_, err = dynamic.Match(ctx, old.URL)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = dynamic.Match(ctx, fresh.URL)
			assert.NoError(t, err)
			_, err = static.Match(ctx, old.URL)
			assert.NoError(t, err, "kept caches are untouched")
		})
	}
}

func TestExpire_Disabled(t *testing.T) {
	m := NewMemory()
	c, err := m.Open(context.Background(), "dynamic-v1")
	require.NoError(t, err)
	old := entry("https://example.test/", 200, "x")
	old.StoredAt = time.Now().Add(-time.Hour)
	require.NoError(t, c.Put(context.Background(), old.URL, old))

	result, err := Expire(context.Background(), m, 0)
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
}
