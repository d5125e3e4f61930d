// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_Defaults(t *testing.T) {
	// Point the search path somewhere empty so no real config leaks in.
	dir := t.TempDir()
	t.Setenv("PWACACHE_CFG", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("APPDATA", dir)
	t.Setenv("HOME", dir)

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "static-v1", s.StaticCache)
	assert.Equal(t, "dynamic-v1", s.DynamicCache)
	assert.Equal(t, "/", s.RootDocument)
	assert.Equal(t, "disk", s.Store.Type)
	assert.Len(t, s.Assets.Static, 8)
	assert.Len(t, s.Assets.External, 4)
	assert.Equal(t, []string{"/api/investor-access"}, s.Sync.Paths)
	assert.Equal(t, "/_ext/", s.Assets.Mount)
	assert.Equal(t, int64(32<<20), s.Network.MaxBody)
}

func TestLoadSettings_FileThenEnv(t *testing.T) {
	cleanup := setupTestConfig(t, "site.yaml")
	defer cleanup()

	t.Setenv("PWACACHE_STORE_PATH", "/tmp/override.db")
	t.Setenv("PWACACHE_NETWORK_RETRIES", "3")
	t.Setenv("PWACACHE_EXTERNAL_PREFIXES", "https://a.example/,https://b.example/")
	t.Setenv("PWACACHE_NETWORK_MAX_BODY", "1048576")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "https://miamiparadise.studio", s.Origin)
	assert.Equal(t, "http://10.0.0.7:8080", s.Upstream)
	assert.Equal(t, "static-v7", s.StaticCache)
	assert.Equal(t, "dynamic-v7", s.DynamicCache)
	assert.Equal(t, "/index.html", s.RootDocument)
	assert.Equal(t, []string{"/", "/index.html", "/assets/css/style-new.css"}, s.Assets.Static)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, s.Assets.External)
	assert.Equal(t, 4*time.Second, s.Network.Timeout)
	assert.Equal(t, 3, s.Network.Retries)
	assert.Equal(t, int64(1<<20), s.Network.MaxBody)
	assert.Equal(t, "sqlite", s.Store.Type)
	assert.Equal(t, "/tmp/override.db", s.Store.Path)
	assert.Equal(t, 90*time.Second, s.Sync.Interval)
	assert.Equal(t, []string{"/api/investor-access", "/api/newsletter"}, s.Sync.Paths)
}

func TestLoadSettings_ExplicitMissingFile(t *testing.T) {
	t.Setenv("PWACACHE_CFG", "/nonexistent/pwacache.yaml")

	_, err := LoadSettings()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadSettings_InvalidStore(t *testing.T) {
	cleanup := setupTestConfig(t, "bad-store.yaml")
	defer cleanup()

	_, err := LoadSettings()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestSettings_Validate(t *testing.T) {
	base := func() Settings {
		s := DefaultSettings()
		s.fillDerived()
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Settings) {}},
		{
			name:    "relative origin",
			mutate:  func(s *Settings) { s.Origin = "/site" },
			wantErr: "invalid origin",
		},
		{
			name:    "ftp upstream",
			mutate:  func(s *Settings) { s.Upstream = "ftp://files.example" },
			wantErr: "invalid upstream",
		},
		{
			name:    "same cache names",
			mutate:  func(s *Settings) { s.DynamicCache = s.StaticCache },
			wantErr: "must differ",
		},
		{
			name:    "relative static asset",
			mutate:  func(s *Settings) { s.Assets.Static = []string{"index.html"} },
			wantErr: "absolute path",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(s *Settings) { s.Store.Type = "s3" },
			wantErr: "requires a bucket",
		},
		{
			name:    "relative mount",
			mutate:  func(s *Settings) { s.Assets.Mount = "_ext/" },
			wantErr: "external mount",
		},
		{
			name:    "mount at root",
			mutate:  func(s *Settings) { s.Assets.Mount = "/" },
			wantErr: "external mount",
		},
		{name: "mount disabled", mutate: func(s *Settings) { s.Assets.Mount = "" }},
		{
			name:    "negative max body",
			mutate:  func(s *Settings) { s.Network.MaxBody = -1 },
			wantErr: "max body",
		},
		{
			name:    "negative retries",
			mutate:  func(s *Settings) { s.Network.Retries = -1 },
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
