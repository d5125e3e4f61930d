// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/meta"
	"github.com/staranto/pwacache/internal/tracing"
)

const shutdownGrace = 5 * time.Second

// ServeCommandAction runs the controller as an HTTP proxy in front of the
// upstream until interrupted.
func ServeCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "serve") {
		return nil
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("listen") {
		s.Listen = cmd.String("listen")
	}

	shutdown, err := tracing.Setup(ctx, m.Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, s)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", s.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Listen, err)
	}

	return serve(ctx, ln, rt, s.Sync.Interval)
}

// bringUp installs and activates. A failed install leaves the controller in
// passthrough so the site still works; a failed cleanup is logged and the
// controller claims anyway.
func bringUp(ctx context.Context, rt *runtime) {
	if !rt.ctrl.Installed() {
		if err := rt.ctrl.Install(ctx); err != nil {
			log.WithError(err).Warn("install failed, passing requests through")
			return
		}
	}
	if _, err := rt.ctrl.Activate(ctx); err != nil {
		log.WithError(err).Warn("failed to remove obsolete caches")
		rt.ctrl.Claim()
	}
}

// maintain retries bring-up until the controller is active and replays the
// outbox.
func maintain(ctx context.Context, rt *runtime) {
	if !rt.ctrl.Active() {
		bringUp(ctx, rt)
	}
	if rt.queue == nil {
		return
	}
	res, err := rt.queue.Sync(ctx, rt.client)
	if err != nil {
		log.WithError(err).Warn("outbox sync failed")
		return
	}
	if res.Delivered+res.Rejected > 0 {
		log.Infof("outbox: %s", res)
	}
}

// serve answers requests on ln until ctx is done. An interval <= 0 disables
// the maintenance loop.
func serve(ctx context.Context, ln net.Listener, rt *runtime, interval time.Duration) error {
	srv := &http.Server{
		Handler:           rt.ctrl,
		ReadHeaderTimeout: 5 * time.Second,
	}

	bringUp(ctx, rt)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving %s on %s", rt.settings.Origin, ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-tick:
			maintain(ctx, rt)
		case <-ctx.Done():
			log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			err := srv.Shutdown(sctx)
			if cerr := rt.ctrl.Close(); err == nil {
				err = cerr
			}
			return err
		}
	}
}

// ServeCommandBuilder constructs the cli.Command for "serve".
func ServeCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "run the cache controller as a proxy",
		UsageText: `pwacache serve [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address to listen on",
				Sources: cli.NewValueSourceChain(
					yaml.YAML("serve.listen", altsrc.StringSourcer(meta.Config.Source)),
				),
			},
			NewStoreFlag(),
			tldrFlag,
		},
		Action: ServeCommandAction,
	}
}
