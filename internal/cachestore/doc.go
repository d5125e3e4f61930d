// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package cachestore holds named response caches. Each cache maps an absolute
// request URL to the last response stored for it. Storage backends live on
// disk, in SQLite, in an S3 bucket or in memory.
package cachestore
