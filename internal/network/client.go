// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package network fetches responses from the site's upstream and from
// third-party hosts on behalf of the cache controller.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/staranto/pwacache/internal/cachestore"
)

// Options configures a Client.
type Options struct {
	// Origin is the public site URL. Requests to it are sent to Upstream.
	Origin string
	// Upstream is where same-origin requests actually go. Empty means Origin.
	Upstream string
	// Retries applies to GET and HEAD only.
	Retries int
	// MaxBody caps response bodies. A larger response is an error, as if
	// none had arrived. Zero means no limit.
	MaxBody int64
	// Transport overrides the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// Client implements controller.Fetcher.
type Client struct {
	origin   *url.URL
	upstream *url.URL

	retrying *retryablehttp.Client
	plain    *http.Client
	maxBody  int64
}

// New returns a Client for o. Same-origin requests are sent to o.Upstream
// when it is set; redirects are never followed.
func New(o Options) (*Client, error) {
	origin, err := url.Parse(o.Origin)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", o.Origin)
	}
	upstream := origin
	if o.Upstream != "" {
		if upstream, err = url.Parse(o.Upstream); err != nil || upstream.Host == "" {
			return nil, fmt.Errorf("invalid upstream %q", o.Upstream)
		}
	}

	plain := cleanhttp.DefaultPooledClient()
	if o.Transport != nil {
		plain.Transport = o.Transport
	}
	// Redirects are handed back to the browser untouched.
	plain.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = plain
	retrying.RetryMax = max(o.Retries, 0)
	retrying.RetryWaitMin = 100 * time.Millisecond //nolint:mnd
	retrying.RetryWaitMax = 2 * time.Second        //nolint:mnd
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retrying.Logger = leveledLogger{}

	return &Client{
		origin:   origin,
		upstream: upstream,
		retrying: retrying,
		plain:    plain,
		maxBody:  max(o.MaxBody, 0),
	}, nil
}

// Fetch sends req and reads the whole response. Any status is a response;
// only transport failures are errors. ctx bounds the body read as well.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*cachestore.Entry, error) {
	target := c.Target(req.URL)

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	var (
		resp *http.Response
		err  error
	)
	if idempotent(req.Method) {
		var raw interface{}
		if len(body) > 0 {
			raw = body
		}
		var rreq *retryablehttp.Request
		rreq, err = retryablehttp.NewRequestWithContext(ctx, req.Method, target.String(), raw)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		copyHeaders(rreq.Header, req.Header)
		c.forwarded(rreq.Request, req)
		resp, err = c.retrying.Do(rreq)
	} else {
		var out *http.Request
		out, err = http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		copyHeaders(out.Header, req.Header)
		c.forwarded(out, req)
		resp, err = c.plain.Do(out)
	}
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	var (
		doc bytes.Buffer
		rd  io.Reader = resp.Body
	)
	if c.maxBody > 0 {
		if resp.ContentLength > c.maxBody {
			return nil, fmt.Errorf("response from %s is %d bytes, limit is %d", target, resp.ContentLength, c.maxBody)
		}
		rd = io.LimitReader(resp.Body, c.maxBody+1)
	}
	if _, err := doc.ReadFrom(rd); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if c.maxBody > 0 && int64(doc.Len()) > c.maxBody {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", target, c.maxBody)
	}

	header := make(http.Header, len(resp.Header))
	copyHeaders(header, resp.Header)
	header.Del("Content-Length")

	log.WithFields(log.Fields{
		"method": req.Method,
		"url":    target.String(),
		"status": resp.StatusCode,
	}).Debug("fetched")

	return &cachestore.Entry{
		URL:      req.URL.String(),
		Status:   resp.StatusCode,
		Header:   header,
		Body:     doc.Bytes(),
		StoredAt: time.Now().UTC(),
	}, nil
}

// Target returns where u is actually fetched from. Same-origin URLs move to
// the upstream, everything else is unchanged.
func (c *Client) Target(u *url.URL) *url.URL {
	t := *u
	if t.Host == "" || sameOrigin(&t, c.origin) {
		t.Scheme = c.upstream.Scheme
		t.Host = c.upstream.Host
		if p := strings.TrimSuffix(c.upstream.Path, "/"); p != "" {
			t.Path = p + t.Path
			t.RawPath = ""
		}
	}
	return &t
}

func (c *Client) forwarded(out, in *http.Request) {
	if sameOrigin(out.URL, c.upstream) && c.upstream.Host != c.origin.Host {
		out.Header.Set("X-Forwarded-Host", c.origin.Host)
		out.Header.Set("X-Forwarded-Proto", c.origin.Scheme)
	}
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		out.Header.Add("X-Forwarded-For", host)
	}
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func idempotent(method string) bool {
	return method == "" || method == http.MethodGet || method == http.MethodHead
}

// hopHeaders are meaningful only for a single connection and are never
// forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies src into dst minus hop-by-hop headers, including any
// listed in src's Connection header. Accept-Encoding is dropped so the
// transport negotiates and decodes compression itself.
func copyHeaders(dst, src http.Header) {
	skip := map[string]bool{"Accept-Encoding": true}
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				skip[http.CanonicalHeaderKey(f)] = true
			}
		}
	}
	for k, vv := range src {
		if skip[http.CanonicalHeaderKey(k)] {
			continue
		}
		dst[k] = append([]string(nil), vv...)
	}
}

// leveledLogger sends retryablehttp's logging through apex/log.
type leveledLogger struct{}

func fields(kv []interface{}) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

func (leveledLogger) Error(msg string, kv ...interface{}) { log.WithFields(fields(kv)).Error(msg) }
func (leveledLogger) Info(msg string, kv ...interface{})  { log.WithFields(fields(kv)).Debug(msg) }
func (leveledLogger) Debug(msg string, kv ...interface{}) { log.WithFields(fields(kv)).Debug(msg) }
func (leveledLogger) Warn(msg string, kv ...interface{})  { log.WithFields(fields(kv)).Warn(msg) }
