// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package driller walks dotted attribute paths through JSON rows, unwrapping
// single element arrays along the way.
package driller
