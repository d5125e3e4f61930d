// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package output

import (
	"cmp"
	"slices"
	"strings"
)

type sortKey struct {
	name          string
	descending    bool
	caseSensitive bool
}

// parseSortSpec splits a --sort spec. Each comma separated key may be
// prefixed with - (descending) and/or ! (case sensitive), in either order.
func parseSortSpec(spec string) []sortKey {
	var keys []sortKey
	for _, raw := range strings.Split(spec, ",") {
		k := sortKey{}
		raw = strings.TrimSpace(raw)
		for len(raw) > 0 && (raw[0] == '-' || raw[0] == '!') {
			if raw[0] == '-' {
				k.descending = true
			} else {
				k.caseSensitive = true
			}
			raw = raw[1:]
		}
		if raw == "" {
			continue
		}
		k.name = raw
		keys = append(keys, k)
	}
	return keys
}

// SortDataset orders the rows in place per spec. The sort is stable so rows
// that compare equal keep their incoming order. Missing values sort first.
func SortDataset(dataset []map[string]interface{}, spec string) {
	keys := parseSortSpec(spec)
	if len(keys) == 0 {
		return
	}

	slices.SortStableFunc(dataset, func(a, b map[string]interface{}) int {
		for _, k := range keys {
			c := compareValues(a[k.name], b[k.name], k.caseSensitive)
			if k.descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func compareValues(a, b interface{}, caseSensitive bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return cmp.Compare(fa, fb)
		}
	}

	sa, sb := InterfaceToString(a), InterfaceToString(b)
	if !caseSensitive {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return strings.Compare(sa, sb)
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
