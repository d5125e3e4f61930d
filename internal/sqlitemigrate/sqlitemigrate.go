// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package sqlitemigrate applies embedded SQL migration files to a SQLite
// database, each at most once.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/apex/log"
)

const (
	table      = "schema_migrations"
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Apply runs every *.sql file under root in name order. Applied file names
// are recorded in schema_migrations and skipped on later runs.
func Apply(ctx context.Context, db *sql.DB, migrations fs.FS, root string) error {
	if db == nil {
		return errors.New("sql db is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}

	dirents, err := fs.ReadDir(migrations, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, de := range dirents {
		if !de.IsDir() && strings.HasSuffix(de.Name(), ".sql") {
			files = append(files, de.Name())
		}
	}
	slices.Sort(files)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		name := path.Join(root, file)
		if root == "." {
			name = file
		}

		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrations, path.Join(root, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		up := Up(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}

		if err := applyOne(ctx, db, name, up); err != nil {
			return err
		}
		log.Debugf("applied migration %s", name)
	}

	return nil
}

func applyOne(ctx context.Context, db *sql.DB, name, up string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, up); err != nil && !AlreadyExists(err) {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+table+" (name, applied_at) VALUES (?, ?)",
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

// Up returns the statements between the Up and Down markers. Content with no
// Up marker is returned whole.
func Up(content string) string {
	i := strings.Index(content, upMarker)
	if i == -1 {
		return content
	}
	content = content[i+len(upMarker):]
	if j := strings.Index(content, downMarker); j != -1 {
		content = content[:j]
	}
	return content
}

// AlreadyExists reports whether err is SQLite complaining about DDL that has
// effectively already run.
func AlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func isApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
