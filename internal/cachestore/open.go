// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	awsx "github.com/staranto/pwacache/internal/aws"
	"github.com/staranto/pwacache/internal/cacheutil"
	"github.com/staranto/pwacache/internal/config"
)

// Open builds the Storage described by st. Disk and sqlite stores default to
// locations under the pwacache cache directory.
func Open(ctx context.Context, st config.StoreSettings) (Storage, error) {
	log.Debugf("opening %s store", st.Type)

	switch st.Type {
	case "memory":
		return NewMemory(), nil

	case "disk", "":
		dir := st.Dir
		if dir == "" {
			base, err := baseDir()
			if err != nil {
				return nil, err
			}
			dir = filepath.Join(base, "caches")
		}
		return NewDisk(dir)

	case "sqlite":
		path := st.Path
		if path == "" {
			base, err := baseDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(base, "caches.db")
		}
		return OpenSQLite(ctx, path)

	case "s3":
		client, err := awsx.NewS3(ctx, awsx.Options{
			Profile:  st.Profile,
			Region:   st.Region,
			Endpoint: st.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return NewS3(client, st.Bucket, st.Prefix)
	}

	return nil, fmt.Errorf("unknown store type %q", st.Type)
}

func baseDir() (string, error) {
	base, ok, err := cacheutil.EnsureBaseDir()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("no cache directory available, set store.dir or store.path")
	}
	return base, nil
}
