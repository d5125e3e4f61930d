// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/staranto/pwacache/internal/cachestore/migrations"
	"github.com/staranto/pwacache/internal/sqlitemigrate"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLite keeps every cache in one database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store requires a path")
	}

	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, db, migrations.FS, ""); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Open(ctx context.Context, name string) (Cache, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	return &sqliteCache{db: s.db, name: name}, nil
}

func (s *SQLite) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM caches WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLite) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteCache struct {
	db   *sql.DB
	name string
}

func (c *sqliteCache) Name() string { return c.name }

func (c *sqliteCache) Match(ctx context.Context, key string) (*Entry, error) {
	var (
		e        = Entry{URL: key}
		header   string
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE cache_name = ? AND url = ?`,
		c.name, key,
	).Scan(&e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if header != "" {
		e.Header = http.Header{}
		if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
			return nil, fmt.Errorf("corrupt cache entry for %s: %w", key, err)
		}
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return &e, nil
}

func (c *sqliteCache) Put(ctx context.Context, key string, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	// Fails on the foreign key when the cache was deleted after Open.
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO entries (cache_name, url, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (cache_name, url) DO UPDATE SET
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		c.name, key, e.Status, string(header), e.Body, storedAt.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}

func (c *sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE cache_name = ? AND url = ?`, c.name, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT url FROM entries WHERE cache_name = ? ORDER BY stored_at, url`, c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
