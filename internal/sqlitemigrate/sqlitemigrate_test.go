// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func count(t *testing.T, db *sql.DB, query string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query).Scan(&n))
	return n
}

func TestApply_RecordsOnce(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	migrations := fstest.MapFS{
		"001_create.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;")},
	}

	require.NoError(t, Apply(ctx, db, migrations, ""))
	require.NoError(t, Apply(ctx, db, migrations, ""))

	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='items'"))
}

func TestApply_FailedMigrationNotRecorded(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	bad := fstest.MapFS{"001_bad.sql": {Data: []byte("-- +migrate Up\nCREAT TABLE things(id INT);")}}

	assert.Error(t, Apply(ctx, db, bad, ""))
	assert.Equal(t, 0, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))

	good := fstest.MapFS{"001_bad.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE things(id INT);")}}
	require.NoError(t, Apply(ctx, db, good, ""))
	assert.Equal(t, 1, count(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApply_Subdirectory(t *testing.T) {
	db := openDB(t)
	migrations := fstest.MapFS{
		"sql/002_b.sql": {Data: []byte("CREATE TABLE b(id INT);")},
		"sql/001_a.sql": {Data: []byte("CREATE TABLE a(id INT);")},
		"sql/README":    {Data: []byte("not a migration")},
	}

	require.NoError(t, Apply(context.Background(), db, migrations, "sql"))

	rows, err := db.Query("SELECT name FROM schema_migrations ORDER BY applied_at, name")
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	assert.ElementsMatch(t, []string{"sql/001_a.sql", "sql/002_b.sql"}, names)
}

func TestUp(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no markers", "CREATE TABLE x(id INT);", "CREATE TABLE x(id INT);"},
		{"up only", "-- +migrate Up\nSELECT 1;", "\nSELECT 1;"},
		{"up and down", "-- +migrate Up\nSELECT 1;\n-- +migrate Down\nSELECT 2;", "\nSELECT 1;\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Up(tt.content))
		})
	}
}

func TestAlreadyExists(t *testing.T) {
	assert.True(t, AlreadyExists(errors.New("table items already exists")))
	assert.True(t, AlreadyExists(errors.New("duplicate column name: url")))
	assert.False(t, AlreadyExists(errors.New("no such table")))
}

func TestApply_NilDB(t *testing.T) {
	assert.Error(t, Apply(context.Background(), nil, fstest.MapFS{}, ""))
}
