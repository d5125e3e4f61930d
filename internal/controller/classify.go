// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Strategy is how an intercepted request is answered.
type Strategy int

const (
	// Passthrough requests go to the network untouched and are never cached.
	Passthrough Strategy = iota
	CacheFirst
	StaleWhileRevalidate
	NetworkFirst
)

func (s Strategy) String() string {
	switch s {
	case Passthrough:
		return "passthrough"
	case CacheFirst:
		return "cache-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	case NetworkFirst:
		return "network-first"
	}
	return "strategy(" + strconv.Itoa(int(s)) + ")"
}

// Classify picks the strategy for a request to the absolute URL u. Rules are
// applied in order: non-GET, non-http(s), static asset, external prefix,
// everything else.
func (c *Controller) Classify(method string, u *url.URL) Strategy {
	if method != "" && method != http.MethodGet {
		return Passthrough
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Passthrough
	}
	if c.sameOrigin(u) {
		if _, ok := c.static[pathOf(u)]; ok {
			return CacheFirst
		}
	}
	if c.external(u.String()) {
		return StaleWhileRevalidate
	}
	return NetworkFirst
}

func (c *Controller) external(raw string) bool {
	for _, p := range c.opts.ExternalPrefixes {
		if p != "" && strings.HasPrefix(raw, p) {
			return true
		}
	}
	return false
}

func (c *Controller) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func pathOf(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// IsNavigation reports whether r is a top-level document load. Fetch
// metadata wins when present; older clients are judged by Accept.
func IsNavigation(r *http.Request) bool {
	dest := r.Header.Get("Sec-Fetch-Dest")
	mode := r.Header.Get("Sec-Fetch-Mode")
	if dest != "" || mode != "" {
		return dest == "document" || mode == "navigate"
	}
	return prefersHTML(r.Header.Get("Accept"))
}

// prefersHTML reports whether text/html carries the highest q value in an
// Accept header.
func prefersHTML(accept string) bool {
	var html, best float64
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		if mt == "text/html" || mt == "application/xhtml+xml" {
			html = max(html, q)
		}
		best = max(best, q)
	}
	return html > 0 && html >= best
}
