// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianChatSync/pkg/fakebackend"
	"github.com/AleutianAI/AleutianChatSync/pkg/observability"
)

const shutdownTimeout = 5 * time.Second

func newMockServerCmd(a *app) *cobra.Command {
	var (
		addr         string
		metricsAddr  string
		interval     time.Duration
		requireLogin bool
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run the scripted mock backend",
		Long: `Run the scripted mock backend. Replies echo the prompt word by word.

  /tool <text>   runs an "echo" tool call first
  #retry         streams a discarded attempt and a retry signal
  #fail          ends with a retryable rate_limit error
  #hangup        ends the stream without a terminal event`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mock := a.cfg.Mock
			if cmd.Flags().Changed("addr") {
				mock.Addr = addr
			}
			if cmd.Flags().Changed("metrics-addr") {
				mock.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("delta-interval") {
				mock.DeltaInterval = interval
			}
			if cmd.Flags().Changed("require-login") {
				mock.RequireLogin = requireLogin
			}
			return runMockServer(cmd.Context(), a, mock.Addr, mock.MetricsAddr, mock.DeltaInterval, mock.RequireLogin)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address, empty disables")
	cmd.Flags().DurationVar(&interval, "delta-interval", 0, "pause between content deltas")
	cmd.Flags().BoolVar(&requireLogin, "require-login", false, "require a session cookie from POST /api/login")
	return cmd
}

func runMockServer(ctx context.Context, a *app, addr, metricsAddr string, interval time.Duration, requireLogin bool) error {
	gin.SetMode(gin.ReleaseMode)
	logger := a.logger.With("component", "mock").Slog()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []fakebackend.Option{
		fakebackend.WithDeltaInterval(interval),
		fakebackend.WithMetrics(observability.NewBackendMetrics(reg)),
		fakebackend.WithLogger(logger),
	}
	if requireLogin {
		opts = append(opts, fakebackend.WithLoginRequired())
	}
	backend := fakebackend.New(opts...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mock backend listening", "addr", addr, "require_login", requireLogin)
		return serveHTTP(ctx, &http.Server{Addr: addr, Handler: backend.Handler()})
	})
	if metricsAddr != "" {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", metricsAddr)
			return serveHTTP(ctx, &http.Server{
				Addr:    metricsAddr,
				Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			})
		})
	}
	return g.Wait()
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
