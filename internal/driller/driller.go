// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package driller

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var indexRegex = regexp.MustCompile(`^(.*?)\[(\d+)\]$`)

// Driller resolves path against the JSON document raw. Segments are separated
// by "." and may carry an explicit [n] index. Without an index, a single
// element array is drilled through as if it were its only element, while a
// longer array is returned whole. A path that cannot be resolved returns an
// empty gjson.Result.
func Driller(raw string, path string) gjson.Result {
	cur := gjson.Parse(raw)

	for _, segment := range strings.Split(path, ".") {
		if !cur.Exists() {
			return gjson.Result{}
		}

		key, idx := segment, -1
		if m := indexRegex.FindStringSubmatch(segment); m != nil {
			key = m[1]
			idx, _ = strconv.Atoi(m[2])
		}

		cur = unwrap(cur)
		if key != "" {
			if !cur.IsObject() {
				return gjson.Result{}
			}
			cur = cur.Get(escape(key))
		}

		if idx >= 0 {
			if !cur.IsArray() {
				return gjson.Result{}
			}
			elems := cur.Array()
			if idx >= len(elems) {
				return gjson.Result{}
			}
			cur = elems[idx]
		}
	}

	return unwrap(cur)
}

func unwrap(r gjson.Result) gjson.Result {
	if r.IsArray() {
		if elems := r.Array(); len(elems) == 1 {
			return elems[0]
		}
	}
	return r
}

// escape guards the gjson path syntax characters that may legitimately
// appear in a key, such as a header name.
func escape(key string) string {
	var b strings.Builder
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
