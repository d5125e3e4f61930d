// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package controller is the cache controller. It classifies each request,
// answers it cache-first, network-first or stale-while-revalidate, and runs
// the install and activate lifecycle for versioned caches.
//
// A request never fails: when neither cache nor network can answer, the
// controller returns a synthetic 503 Offline response.
package controller
