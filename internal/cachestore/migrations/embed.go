// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package migrations

import "embed"

// FS holds the SQLite cache store schema.
//
//go:embed *.sql
var FS embed.FS
