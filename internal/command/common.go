// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/attrs"
	"github.com/staranto/pwacache/internal/cachestore"
	"github.com/staranto/pwacache/internal/cacheutil"
	"github.com/staranto/pwacache/internal/config"
	"github.com/staranto/pwacache/internal/controller"
	"github.com/staranto/pwacache/internal/meta"
	"github.com/staranto/pwacache/internal/network"
	"github.com/staranto/pwacache/internal/outbox"
	"github.com/staranto/pwacache/internal/output"
)

// ShortCircuitTLDR checks the --tldr flag and, if present and available,
// runs `tldr pwacache-<subcmd>` and returns true so the caller can exit early.
func ShortCircuitTLDR(ctx context.Context, cmd *cli.Command, subcmd string) bool {
	if cmd.Bool("tldr") {
		if _, err := exec.LookPath("tldr"); err == nil {
			c := exec.CommandContext(ctx, "tldr", "pwacache-"+subcmd)
			c.Stdout = writer(cmd)
			c.Stderr = os.Stderr
			_ = c.Run()
		}
		return true
	}
	return false
}

// BuildAttrs constructs an AttrList with defaults and optional extras from
// --attrs, then applies the global transform spec.
func BuildAttrs(cmd *cli.Command, defaults ...string) (al attrs.AttrList) {
	//nolint:errcheck
	{
		for _, d := range defaults {
			al.Set(d)
		}
		if extras := cmd.String("attrs"); extras != "" {
			al.Set(extras)
		}
		al.SetGlobalTransformSpec()
	}
	return
}

// EmitRows marshals rows as JSON and passes them to the common output
// routine.
func EmitRows(rows any, al attrs.AttrList, cmd *cli.Command, postProcess func([]map[string]interface{}) error) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	return output.SliceDiceSpit(*bytes.NewBuffer(raw), al, cmd, "", writer(cmd), postProcess)
}

// GetMeta returns the meta.Meta stored in the command's Metadata. If missing
// or of an unexpected type, it returns the zero value.
func GetMeta(cmd *cli.Command) meta.Meta {
	if cmd == nil || cmd.Metadata == nil {
		return meta.Meta{}
	}
	if m, ok := cmd.Metadata["meta"].(meta.Meta); ok {
		return m
	}
	return meta.Meta{}
}

// writer is where command output goes. Tests swap the root Writer.
func writer(cmd *cli.Command) io.Writer {
	if root := cmd.Root(); root != nil && root.Writer != nil {
		return root.Writer
	}
	return os.Stdout
}

// loadSettings reads the site settings and applies the per-run overrides
// from cmd.
func loadSettings(cmd *cli.Command) (config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return s, fmt.Errorf("failed to load settings: %w", err)
	}
	if cmd.IsSet("store") {
		s.Store.Type = strings.ToLower(cmd.String("store"))
		if err := s.Validate(); err != nil {
			return s, err
		}
	}
	log.Debugf("settings: origin=%s upstream=%s store=%s static=%s dynamic=%s",
		s.Origin, s.Upstream, s.Store.Type, s.StaticCache, s.DynamicCache)
	return s, nil
}

// openOutboxStore opens the storage the outbox lives in. It is always local:
// memory when the caches are in memory, otherwise a disk store in sync.dir.
func openOutboxStore(ctx context.Context, s config.Settings) (cachestore.Storage, error) {
	if s.Store.Type == "memory" {
		return cachestore.NewMemory(), nil
	}
	dir := s.Sync.Dir
	if dir == "" {
		base, ok, err := cacheutil.EnsureBaseDir()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("no cache directory available for the outbox, set sync.dir")
		}
		dir = filepath.Join(base, "outbox")
	}
	return cachestore.Open(ctx, config.StoreSettings{Type: "disk", Dir: dir})
}

// runtime is everything a controller needs, opened from Settings.
type runtime struct {
	settings    config.Settings
	store       cachestore.Storage
	outboxStore cachestore.Storage
	queue       *outbox.Queue
	client      *network.Client
	ctrl        *controller.Controller
}

func openRuntime(ctx context.Context, s config.Settings) (rt *runtime, err error) {
	rt = &runtime{settings: s}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.client, err = network.New(network.Options{
		Origin:   s.Origin,
		Upstream: s.Upstream,
		Retries:  s.Network.Retries,
		MaxBody:  s.Network.MaxBody,
	})
	if err != nil {
		return nil, err
	}

	if rt.store, err = cachestore.Open(ctx, s.Store); err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", s.Store.Type, err)
	}

	opts := controller.Options{
		Origin:           s.Origin,
		StaticCache:      s.StaticCache,
		DynamicCache:     s.DynamicCache,
		StaticAssets:     s.Assets.Static,
		ExternalPrefixes: s.Assets.External,
		RootDocument:     s.RootDocument,
		NetworkTimeout:   s.Network.Timeout,
		ExternalMount:    s.Assets.Mount,
		MaxRequestBody:   s.Network.MaxBody,
	}

	if len(s.Sync.Paths) > 0 {
		if rt.outboxStore, err = openOutboxStore(ctx, s); err != nil {
			return nil, err
		}
		if rt.queue, err = outbox.New(ctx, rt.outboxStore, s.Sync.Paths); err != nil {
			return nil, err
		}
		opts.Outbox = rt.queue
	}

	if rt.ctrl, err = controller.New(opts, rt.store, rt.client); err != nil {
		return nil, err
	}
	return rt, nil
}

// Close drains the controller and closes both stores.
func (rt *runtime) Close() error {
	var errs []error
	if rt.ctrl != nil {
		errs = append(errs, rt.ctrl.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.outboxStore != nil {
		errs = append(errs, rt.outboxStore.Close())
	}
	return errors.Join(errs...)
}
