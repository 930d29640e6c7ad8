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
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/AleutianChatSync/pkg/broadcast"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/api"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
	"github.com/AleutianAI/AleutianChatSync/pkg/config"
	"github.com/AleutianAI/AleutianChatSync/pkg/observability"
	"github.com/AleutianAI/AleutianChatSync/pkg/transport"
)

// clientStack is everything one chat session needs.
type clientStack struct {
	bus        *broadcast.Bus
	client     *transport.Client
	controller *session.Controller
	metrics    *observability.ClientMetrics
	registry   *prometheus.Registry
	unwatch    func()
}

func newClientStack(cfg config.Config, logger *slog.Logger) (*clientStack, error) {
	bus := broadcast.New(broadcast.WithLogger(logger))

	client, err := transport.New(transport.Config{
		BaseURL:     cfg.Server.BaseURL,
		Timeout:     cfg.Server.Timeout,
		BearerToken: cfg.Server.Token,
		UserAgent:   cfg.Server.UserAgent,
		Bus:         bus,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewClientMetrics(reg)

	ctrl := session.NewController(session.Config{
		Opener:   session.NewTransportOpener(client),
		Reloader: api.NewClient(client, cfg.Paths.Conversation),
		Paths: session.Paths{
			Create: cfg.Paths.Create,
			Send:   cfg.Paths.Send,
		},
		Bus:           bus,
		Logger:        logger,
		Metrics:       metrics,
		ReloadTimeout: cfg.Session.ReloadTimeout,
	})

	return &clientStack{
		bus:        bus,
		client:     client,
		controller: ctrl,
		metrics:    metrics,
		registry:   reg,
		unwatch:    metrics.WatchSessionExpiry(bus),
	}, nil
}

// onSessionExpired runs fn for every 401 broadcast. The returned func
// unsubscribes.
func (s *clientStack) onSessionExpired(fn func()) func() {
	_, cancel := s.bus.Subscribe(broadcast.TopicSessionExpired, func(broadcast.Notification) {
		fn()
	})
	return cancel
}

func (s *clientStack) close() {
	s.unwatch()
}
