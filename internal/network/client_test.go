// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, upstream string, mutate ...func(*Options)) *Client {
	t.Helper()
	o := Options{Origin: "https://miamiparadise.studio", Upstream: upstream}
	for _, m := range mutate {
		m(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidOrigin(t *testing.T) {
	_, err := New(Options{Origin: "/relative"})
	assert.Error(t, err)

	_, err = New(Options{Origin: "https://a.example", Upstream: "::bad"})
	assert.Error(t, err)
}

func TestTarget(t *testing.T) {
	c := newClient(t, "http://10.0.0.7:8080/site/")

	tests := []struct {
		in   string
		want string
	}{
		{"https://miamiparadise.studio/index.html?v=2", "http://10.0.0.7:8080/site/index.html?v=2"},
		{"/assets/css/style-new.css", "http://10.0.0.7:8080/site/assets/css/style-new.css"},
		{"https://fonts.gstatic.com/s/inter.woff2", "https://fonts.gstatic.com/s/inter.woff2"},
		{"http://miamiparadise.studio/", "http://miamiparadise.studio/"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Target(u).String())
		})
	}
}

func TestFetch_RewritesToUpstream(t *testing.T) {
	var gotPath, gotFwdHost, gotConn, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotFwdHost = r.Header.Get("X-Forwarded-Host")
		gotConn = r.Header.Get("X-Hop")
		gotCustom = r.Header.Get("X-Custom")
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Keep-Alive", "timeout=5")
		_, _ = io.WriteString(w, "<h1>home</h1>")
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	req := httptest.NewRequest(http.MethodGet, "https://miamiparadise.studio/index.html?x=1", nil)
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "drop me")
	req.Header.Set("X-Custom", "keep me")

	e, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/index.html?x=1", gotPath)
	assert.Equal(t, "miamiparadise.studio", gotFwdHost)
	assert.Empty(t, gotConn)
	assert.Equal(t, "keep me", gotCustom)

	assert.Equal(t, "https://miamiparadise.studio/index.html?x=1", e.URL)
	assert.Equal(t, http.StatusOK, e.Status)
	assert.Equal(t, "<h1>home</h1>", string(e.Body))
	assert.Equal(t, "text/html", e.ContentType())
	assert.Empty(t, e.Header.Get("Keep-Alive"))
	assert.False(t, e.StoredAt.IsZero())
}

func TestFetch_NonOKIsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	e, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.False(t, e.OK())
}

func TestFetch_RedirectNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	e, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/old", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, e.Status)
	assert.Equal(t, "/elsewhere", e.Header.Get("Location"))
}

func TestFetch_TransportErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	upstream := srv.URL
	srv.Close()

	c := newClient(t, upstream)
	_, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Error(t, err)
}

func TestFetch_RetriesGetOnly(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "email=a%40b.c", string(body))
		} else {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, func(o *Options) { o.Retries = 2 })

	e, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, int32(3), gets.Load())

	post := httptest.NewRequest(http.MethodPost, "/api/investor-access", strings.NewReader("email=a%40b.c"))
	post.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	e, err = c.Fetch(context.Background(), post)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, e.Status)
	assert.Equal(t, int32(1), posts.Load())
}

func TestFetch_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.Fetch(ctx, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetch_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := strings.Repeat("x", 64)
		if r.URL.Path == "/streamed" {
			// Flushing first leaves the length unknown to the client.
			w.(http.Flusher).Flush()
		}
		if r.URL.Path == "/small" {
			body = "ok"
		}
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, func(o *Options) { o.MaxBody = 32 })

	_, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/declared", nil))
	assert.ErrorContains(t, err, "limit is 32")

	_, err = c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/streamed", nil))
	assert.ErrorContains(t, err, "exceeds 32 bytes")

	e, err := c.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/small", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(e.Body))

	unlimited := newClient(t, srv.URL)
	e, err = unlimited.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/streamed", nil))
	require.NoError(t, err)
	assert.Len(t, e.Body, 64)
}

func TestCopyHeaders(t *testing.T) {
	src := http.Header{
		"Connection":        {"close, X-Private"},
		"X-Private":         {"secret"},
		"Transfer-Encoding": {"chunked"},
		"Accept-Encoding":   {"br"},
		"Accept":            {"text/html"},
	}
	dst := http.Header{}
	copyHeaders(dst, src)

	assert.Equal(t, http.Header{"Accept": {"text/html"}}, dst)
}
