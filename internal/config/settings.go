// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Settings is the typed view of the site configuration. Values come from
// DefaultSettings, then the YAML config file, then PWACACHE_* environment
// variables.
type Settings struct {
	// Origin is the public URL the site is served under. Requests without a
	// host are resolved against it.
	Origin string `yaml:"origin" env:"PWACACHE_ORIGIN"`
	// Upstream is where same-origin requests are actually fetched from.
	// Defaults to Origin.
	Upstream string `yaml:"upstream" env:"PWACACHE_UPSTREAM"`
	Listen   string `yaml:"listen" env:"PWACACHE_LISTEN"`

	// Version names both cache generations unless StaticCache/DynamicCache
	// are given explicitly. Bump it on every deploy that changes assets.
	Version      string `yaml:"version" env:"PWACACHE_VERSION"`
	StaticCache  string `yaml:"static_cache" env:"PWACACHE_STATIC_CACHE"`
	DynamicCache string `yaml:"dynamic_cache" env:"PWACACHE_DYNAMIC_CACHE"`
	RootDocument string `yaml:"root_document" env:"PWACACHE_ROOT_DOCUMENT"`

	Assets  AssetSettings   `yaml:"assets"`
	Network NetworkSettings `yaml:"network" envPrefix:"PWACACHE_NETWORK_"`
	Store   StoreSettings   `yaml:"store" envPrefix:"PWACACHE_STORE_"`
	Sync    SyncSettings    `yaml:"sync" envPrefix:"PWACACHE_SYNC_"`
}

type AssetSettings struct {
	Static   []string `yaml:"static" env:"PWACACHE_STATIC_ASSETS" envSeparator:","`
	External []string `yaml:"external" env:"PWACACHE_EXTERNAL_PREFIXES" envSeparator:","`
	// Mount is the site path third-party URLs are requested under, as
	// <mount><host>/<path>. Empty turns it off.
	Mount string `yaml:"mount" env:"PWACACHE_EXTERNAL_MOUNT"`
}

type NetworkSettings struct {
	// Timeout bounds each upstream fetch. Zero leaves it to the transport.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retries int           `yaml:"retries" env:"RETRIES"`
	// MaxBody caps request and response bodies, in bytes. Zero is unlimited.
	MaxBody int64 `yaml:"max_body" env:"MAX_BODY"`
}

type StoreSettings struct {
	// Type is one of memory, disk, s3 or sqlite.
	Type     string `yaml:"type" env:"TYPE"`
	Dir      string `yaml:"dir" env:"DIR"`
	Path     string `yaml:"path" env:"PATH"`
	Bucket   string `yaml:"bucket" env:"BUCKET"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
	Region   string `yaml:"region" env:"REGION"`
	Profile  string `yaml:"profile" env:"PROFILE"`
	// Endpoint points the s3 store at an S3-compatible service such as
	// MinIO. Path-style addressing is used whenever it is set.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

type SyncSettings struct {
	Paths    []string      `yaml:"paths" env:"PATHS" envSeparator:","`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	Dir      string        `yaml:"dir" env:"DIR"`
}

// DefaultSettings returns the settings the site shipped with.
func DefaultSettings() Settings {
	return Settings{
		Origin:       "http://127.0.0.1:31337",
		Upstream:     "http://127.0.0.1:8080",
		Listen:       "127.0.0.1:31337",
		Version:      "v1",
		RootDocument: "/",
		Assets: AssetSettings{
			Static: []string{
				"/",
				"/index.html",
				"/assets/css/style-new.css",
				"/assets/js/main-new.js",
				"/assets/images/android-chrome-192x192.png",
				"/assets/images/favicon-32x32.png",
				"/assets/images/favicon-16x16.png",
				"/site.webmanifest",
			},
			External: []string{
				"https://fonts.googleapis.com/css2",
				"https://fonts.gstatic.com/s/",
				"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/",
				"https://cdn.jsdelivr.net/npm/tsparticles@2.12.0/",
			},
			Mount: "/_ext/",
		},
		Network: NetworkSettings{
			MaxBody: 32 << 20,
		},
		Store: StoreSettings{
			Type: "disk",
		},
		Sync: SyncSettings{
			Paths:    []string{"/api/investor-access"},
			Interval: 5 * time.Minute,
		},
	}
}

// LoadSettings builds Settings from the defaults, the config file (when one
// exists) and the environment, in that order.
func LoadSettings() (Settings, error) {
	s := DefaultSettings()

	path, err := getConfigPath()
	switch {
	case err == nil:
		raw, err := os.ReadFile(path)
		if err != nil {
			return s, err
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, ErrNotFound) && os.Getenv("PWACACHE_CFG") == "":
		// No config file anywhere is fine, the defaults describe the site.
	default:
		return s, err
	}

	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parse env: %w", err)
	}

	s.fillDerived()
	return s, s.Validate()
}

func (s *Settings) fillDerived() {
	if s.Version == "" {
		s.Version = "v1"
	}
	if s.StaticCache == "" {
		s.StaticCache = "static-" + s.Version
	}
	if s.DynamicCache == "" {
		s.DynamicCache = "dynamic-" + s.Version
	}
	if s.Upstream == "" {
		s.Upstream = s.Origin
	}
	if s.RootDocument == "" {
		s.RootDocument = "/"
	}
	s.Store.Type = strings.ToLower(strings.TrimSpace(s.Store.Type))
}

// Validate reports the first setting that cannot work.
func (s Settings) Validate() error {
	for name, raw := range map[string]string{"origin": s.Origin, "upstream": s.Upstream} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", name, raw)
		}
	}

	if s.StaticCache == s.DynamicCache {
		return fmt.Errorf("static and dynamic caches must differ, both are %q", s.StaticCache)
	}

	for _, p := range s.Assets.Static {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("static asset %q must be an absolute path", p)
		}
	}

	switch s.Store.Type {
	case "memory", "disk", "sqlite":
	case "s3":
		if s.Store.Bucket == "" {
			return errors.New("store type s3 requires a bucket")
		}
	default:
		return fmt.Errorf("unknown store type %q", s.Store.Type)
	}

	if m := s.Assets.Mount; m != "" && (!strings.HasPrefix(m, "/") || strings.Trim(m, "/") == "") {
		return fmt.Errorf("external mount %q must be an absolute path below the site root", m)
	}

	if s.Network.Retries < 0 {
		return fmt.Errorf("network retries must not be negative, got %d", s.Network.Retries)
	}
	if s.Network.MaxBody < 0 {
		return fmt.Errorf("network max body must not be negative, got %d", s.Network.MaxBody)
	}

	return nil
}
