// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staranto/pwacache/internal/cachestore"
	"github.com/staranto/pwacache/internal/config"
	"github.com/staranto/pwacache/internal/controller"
	"github.com/staranto/pwacache/internal/outbox"
)

const testOrigin = "https://miamiparadise.studio"

type site struct {
	srv   *httptest.Server
	posts atomic.Int32
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<h1>home</h1>")
		case "/assets/css/style-new.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{margin:0}")
		case "/api/investor-access":
			s.posts.Add(1)
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// useSite points every setting at temp dirs and the test upstream.
func useSite(t *testing.T, upstream string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PWACACHE_CFG", "")
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_CACHE_HOME", dir)
	t.Setenv("PWACACHE_CACHE_DIR", dir)
	t.Setenv("APPDATA", dir)
	t.Setenv("PWACACHE_ORIGIN", testOrigin)
	t.Setenv("PWACACHE_UPSTREAM", upstream)
	t.Setenv("PWACACHE_STORE_TYPE", "disk")
	t.Setenv("PWACACHE_STORE_DIR", t.TempDir())
	t.Setenv("PWACACHE_SYNC_DIR", t.TempDir())
	t.Setenv("PWACACHE_STATIC_ASSETS", "/,/assets/css/style-new.css")
	t.Setenv("PWACACHE_SYNC_PATHS", "/api/investor-access")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"pwacache"}, args...)
	app, err := InitApp(context.Background(), full)
	require.NoError(t, err)

	var buf bytes.Buffer
	app.Writer = &buf
	err = app.Run(context.Background(), full)
	return buf.String(), err
}

func openStore(t *testing.T) cachestore.Storage {
	t.Helper()
	s, err := config.LoadSettings()
	require.NoError(t, err)
	store, err := cachestore.Open(context.Background(), s.Store)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInstallListActivate(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	ctx := context.Background()

	out, err := run(t, "install")
	require.NoError(t, err)
	assert.Equal(t, "installed 2 assets into static-v1\n", out)

	out, err = run(t, "ls", "-o", "json", "-s", "url")
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "static-v1", rows[0]["cache"])
	assert.Equal(t, testOrigin+"/", rows[0]["url"])
	assert.Equal(t, "text/html", rows[0]["type"])
	assert.Equal(t, float64(13), rows[0]["size"])
	assert.Contains(t, rows[0], "stored")
	assert.Equal(t, testOrigin+"/assets/css/style-new.css", rows[1]["url"])

	// Leave an old version behind.
	store := openStore(t)
	old, err := store.Open(ctx, "static-v0")
	require.NoError(t, err)
	require.NoError(t, old.Put(ctx, "x", &cachestore.Entry{Status: 200, Body: []byte("old"), StoredAt: time.Now()}))
	require.NoError(t, store.Close())

	out, err = run(t, "caches", "-o", "json")
	require.NoError(t, err)
	var caches []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &caches))
	require.Len(t, caches, 2)
	assert.Equal(t, "static", caches[0]["role"])
	assert.Equal(t, "27 B", caches[0]["size"])
	assert.Equal(t, "obsolete", caches[1]["role"])

	out, err = run(t, "activate", "--dry-run")
	require.NoError(t, err)
	assert.Equal(t, "would delete static-v0\n", out)

	out, err = run(t, "activate")
	require.NoError(t, err)
	assert.Equal(t, "deleted static-v0\n", out)

	out, err = run(t, "activate")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestInstall_FailsOnMissingAsset(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	t.Setenv("PWACACHE_STATIC_ASSETS", "/,/missing.js")

	_, err := run(t, "install")
	assert.ErrorContains(t, err, "/missing.js")

	_, err = run(t, "ls", "static-v1")
	assert.ErrorContains(t, err, `no cache named "static-v1"`)
}

func TestLs_Filter(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)

	_, err := run(t, "install")
	require.NoError(t, err)

	out, err := run(t, "ls", "-o", "json", "-a", "!cache", "-f", "type=text/css")
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0], "cache")
	assert.Equal(t, testOrigin+"/assets/css/style-new.css", rows[0]["url"])
}

func TestLs_BadAttrs(t *testing.T) {
	useSite(t, "http://127.0.0.1:1")
	_, err := run(t, "ls", "--attrs", "url,:x")
	assert.ErrorContains(t, err, "--attrs")
}

func TestPurge(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	ctx := context.Background()

	_, err := run(t, "install")
	require.NoError(t, err)

	store := openStore(t)
	dyn, err := store.Open(ctx, "dynamic-v1")
	require.NoError(t, err)
	require.NoError(t, dyn.Put(ctx, testOrigin+"/api/status", &cachestore.Entry{
		Status: 200, Body: []byte("stale reply"), StoredAt: time.Now().Add(-200 * time.Hour),
	}))
	require.NoError(t, dyn.Put(ctx, testOrigin+"/about", &cachestore.Entry{
		Status: 200, Body: []byte("fresh"), StoredAt: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "purge")
	require.NoError(t, err)
	assert.Equal(t, "purged 1 entries, 11 B\n", out)

	// Zero disables expiry.
	out, err = run(t, "purge", "--hours", "0")
	require.NoError(t, err)
	assert.Equal(t, "purged 0 entries, 0 B\n", out)

	_, err = run(t, "purge", "--hours", "-1")
	assert.Error(t, err)
}

func TestSync(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	ctx := context.Background()

	s, err := config.LoadSettings()
	require.NoError(t, err)
	store, err := openOutboxStore(ctx, s)
	require.NoError(t, err)
	q, err := outbox.New(ctx, store, s.Sync.Paths)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, testOrigin+"/api/investor-access", nil)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = q.Enqueue(ctx, req, []byte("email=ceo%40fund.example"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := run(t, "sync", "--list", "-o", "json")
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, testOrigin+"/api/investor-access", rows[0]["url"])
	assert.Equal(t, float64(0), rows[0]["attempts"])

	out, err = run(t, "sync")
	require.NoError(t, err)
	assert.Equal(t, "1 delivered, 0 rejected, 0 pending\n", out)
	assert.Equal(t, int32(1), site.posts.Load())

	out, err = run(t, "sync", "--list", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "complete -F _pwacache pwacache")

	out, err = run(t, "completion", "zsh")
	require.NoError(t, err)
	assert.Contains(t, out, "compdef _pwacache pwacache")
}

func TestServe(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := config.LoadSettings()
	require.NoError(t, err)
	s.Store.Type = "memory"

	rt, err := openRuntime(ctx, s)
	require.NoError(t, err)
	defer rt.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, rt, time.Hour) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, rt.ctrl.Active, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/assets/css/style-new.css")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{margin:0}", string(body))
	assert.Equal(t, controller.SourceCache, resp.Header.Get(controller.SourceHeader))

	// Take the upstream down and submit the form.
	site.srv.Close()
	resp, err = http.Post(base+"/api/investor-access", "application/x-www-form-urlencoded",
		strings.NewReader("email=ceo%40fund.example"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, controller.SourceQueued, resp.Header.Get(controller.SourceHeader))
	assert.NotEmpty(t, resp.Header.Get("X-Pwacache-Queue-Id"))

	subs, err := rt.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, testOrigin+"/api/investor-access", subs[0].URL)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_InstallFailurePassesThrough(t *testing.T) {
	site := newSite(t)
	useSite(t, site.srv.URL)
	t.Setenv("PWACACHE_STATIC_ASSETS", "/,/missing.js")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := config.LoadSettings()
	require.NoError(t, err)
	s.Store.Type = "memory"
	rt, err := openRuntime(ctx, s)
	require.NoError(t, err)
	defer rt.Close() //nolint:errcheck

	bringUp(ctx, rt)
	assert.False(t, rt.ctrl.Installed())
	assert.False(t, rt.ctrl.Active())

	rec := httptest.NewRecorder()
	rt.ctrl.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, controller.SourcePassthrough, rec.Header().Get(controller.SourceHeader))
}
