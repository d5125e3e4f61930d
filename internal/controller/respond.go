// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/staranto/pwacache/internal/cachestore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Respond is the fetch hook. It always returns a response.
func (c *Controller) Respond(ctx context.Context, r *http.Request) *cachestore.Entry {
	u := c.resolve(r)

	strategy := Passthrough
	if c.Active() {
		strategy = c.Classify(r.Method, u)
	}

	ctx, span := c.tracer.Start(ctx, "pwacache.respond",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.full", u.String()),
			attribute.String("pwacache.strategy", strategy.String()),
		))
	defer span.End()

	var e *cachestore.Entry
	switch strategy {
	case CacheFirst:
		e = c.cacheFirst(ctx, r, u)
	case StaleWhileRevalidate:
		e = c.staleWhileRevalidate(ctx, r, u)
	case NetworkFirst:
		e = c.networkFirst(ctx, r, u)
	default:
		e = c.passthrough(ctx, r, u)
	}
	if strategy != Passthrough && notModified(r, e) {
		e = unchanged(e)
	}

	source := e.Header.Get(SourceHeader)
	span.SetAttributes(
		attribute.Int("http.response.status_code", e.Status),
		attribute.String("pwacache.source", source),
	)
	log.WithFields(log.Fields{
		"method":   r.Method,
		"url":      u.String(),
		"strategy": strategy.String(),
		"status":   e.Status,
		"source":   source,
	}).Debug("respond")

	return e
}

// resolve returns the absolute URL of r without its fragment. Requests that
// carry only a path belong to Origin, except GET and HEAD under
// ExternalMount, which name a third-party URL.
func (c *Controller) resolve(r *http.Request) *url.URL {
	u := *r.URL
	if u.Host == "" {
		u.Scheme = c.origin.Scheme
		u.Host = c.origin.Host
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if ext, ok := c.unmount(&u); ok {
			return ext
		}
	}
	return &u
}

// unmount maps <mount><host>/<path>?<query> on the site to
// https://<host>/<path>?<query>. The result must match an external prefix.
func (c *Controller) unmount(u *url.URL) (*url.URL, bool) {
	m := c.opts.ExternalMount
	if m == "" || !c.sameOrigin(u) || !strings.HasPrefix(u.EscapedPath(), m) {
		return nil, false
	}
	ext, err := url.Parse("https://" + strings.TrimPrefix(u.EscapedPath(), m))
	if err != nil || ext.Host == "" || ext.User != nil {
		return nil, false
	}
	if ext.Path == "" {
		ext.Path = "/"
	}
	ext.RawQuery = u.RawQuery
	if !c.external(ext.String()) {
		return nil, false
	}
	return ext, true
}

// notModified reports whether the client's If-None-Match already names e's
// entity tag. Tags compare weakly.
func notModified(r *http.Request, e *cachestore.Entry) bool {
	etag := strings.TrimPrefix(e.Header.Get("Etag"), "W/")
	inm := r.Header.Get("If-None-Match")
	if e.Status != http.StatusOK || etag == "" || inm == "" {
		return false
	}
	for _, t := range strings.Split(inm, ",") {
		t = strings.TrimSpace(t)
		if t == "*" || strings.TrimPrefix(t, "W/") == etag {
			return true
		}
	}
	return false
}

// unchanged turns e into the 304 answering a matching conditional request.
func unchanged(e *cachestore.Entry) *cachestore.Entry {
	nm := e.Clone()
	nm.Status = http.StatusNotModified
	nm.Body = nil
	for _, h := range []string{"Content-Type", "Content-Length", "Content-Encoding", "Content-Range"} {
		nm.Header.Del(h)
	}
	return nm
}

// allowedMethods is what the controller can forward. CONNECT would need a
// tunnel, which it does not provide.
const allowedMethods = "GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS"

// passthrough forwards r without touching the caches. Submissions the outbox
// is configured for are queued when the network is unreachable.
func (c *Controller) passthrough(ctx context.Context, r *http.Request, u *url.URL) *cachestore.Entry {
	if r.Method == http.MethodConnect {
		e := status(u.String(), http.StatusMethodNotAllowed)
		e.Header.Set("Allow", allowedMethods)
		return e
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		rd := r.Body
		if c.opts.MaxRequestBody > 0 {
			rd = http.MaxBytesReader(nil, r.Body, c.opts.MaxRequestBody)
		}
		var err error
		if body, err = io.ReadAll(rd); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warnf("request body for %s exceeds %d bytes", u, tooLarge.Limit)
				return status(u.String(), http.StatusRequestEntityTooLarge)
			}
			log.WithError(err).Warnf("failed to read request body for %s", u)
			return status(u.String(), http.StatusBadRequest)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	e, err := c.fetchURL(ctx, r, u)
	if err == nil {
		return tag(e, SourcePassthrough)
	}
	log.WithError(err).Warnf("passthrough failed for %s %s", r.Method, u)

	if ob := c.opts.Outbox; ob != nil && r.Method == http.MethodPost && c.sameOrigin(u) && ob.Matches(u.Path) {
		qr := r.Clone(ctx)
		qr.URL = u
		id, qerr := ob.Enqueue(ctx, qr, body)
		if qerr == nil {
			q := status(u.String(), http.StatusAccepted)
			q.Header.Set(SourceHeader, SourceQueued)
			q.Header.Set("X-Pwacache-Queue-Id", id)
			return q
		}
		log.WithError(qerr).Errorf("failed to queue submission to %s", u.Path)
	}

	return status(u.String(), http.StatusBadGateway)
}

func status(key string, code int) *cachestore.Entry {
	return &cachestore.Entry{
		URL:    key,
		Status: code,
		Header: http.Header{
			"Content-Type": {"text/plain; charset=utf-8"},
			SourceHeader:   {SourcePassthrough},
		},
		Body:     []byte(http.StatusText(code)),
		StoredAt: time.Now().UTC(),
	}
}

// ServeHTTP writes Respond's answer to w.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e := c.Respond(r.Context(), r)

	h := w.Header()
	for k, vv := range e.Header {
		h[k] = append([]string(nil), vv...)
	}
	h.Del("Content-Length")
	withBody := r.Method != http.MethodHead && bodyAllowed(e.Status)
	if withBody {
		h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	}
	w.WriteHeader(e.Status)

	if !withBody {
		return
	}
	if _, err := w.Write(e.Body); err != nil {
		log.WithError(err).Debugf("failed to write response for %s", r.URL)
	}
}

func bodyAllowed(code int) bool {
	return code >= http.StatusOK && code != http.StatusNoContent && code != http.StatusNotModified
}
