// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package aws builds the AWS SDK v2 clients used by the s3 cache store.
package aws
