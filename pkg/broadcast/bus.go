// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broadcast provides an explicitly scoped publish/subscribe bus.
//
// # Description
//
// The bus lets one component announce something (for example "the server
// session expired") to unrelated listeners without depending on them. A Bus is
// created by the application and injected where it is needed; there is no
// package-level instance.
//
// # Thread Safety
//
// Bus is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and must not block. A panicking handler is recovered
// and logged so it cannot break the publisher or other subscribers.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a class of notifications.
type Topic string

const (
	// TopicSessionExpired is published when the server rejects a request as
	// unauthenticated. Data is a SessionExpired value.
	TopicSessionExpired Topic = "session.expired"

	// TopicSessionUpdated is published by a session controller whenever its
	// observable state changes.
	TopicSessionUpdated Topic = "session.updated"
)

// SessionExpired is the payload of TopicSessionExpired.
type SessionExpired struct {
	URL        string
	StatusCode int
}

// Notification is one published message.
type Notification struct {
	ID        string
	Topic     Topic
	Timestamp time.Time
	Data      any
}

// Handler processes a notification.
type Handler func(n Notification)

type subscription struct {
	id      string
	topic   Topic
	handler Handler
}

// Bus fans notifications out to subscribers. A nil *Bus is a valid bus that
// drops every notification and holds no subscriptions.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	order  []string
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string]*subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topic.
//
// # Outputs
//
//   - string: Subscription ID, for Unsubscribe.
//   - func(): Cancels the subscription. Safe to call more than once.
func (b *Bus) Subscribe(topic Topic, handler Handler) (string, func()) {
	if b == nil {
		return "", func() {}
	}
	sub := &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.order = append(b.order, sub.id)
	b.mu.Unlock()

	return sub.id, func() { b.Unsubscribe(sub.id) }
}

// Unsubscribe removes a subscription. It reports whether the id was known.
func (b *Bus) Unsubscribe(id string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[id]; !ok {
		return false
	}
	delete(b.subs, id)
	for i, sid := range b.order {
		if sid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true
}

// Publish delivers data to every subscriber of topic, in subscription order.
//
// Publish never fails and returns nothing; it is fire-and-forget from the
// publisher's point of view.
func (b *Bus) Publish(topic Topic, data any) {
	if b == nil {
		return
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.order))
	for _, id := range b.order {
		if sub := b.subs[id]; sub.topic == topic {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	n := Notification{
		ID:        uuid.NewString(),
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	}
	for _, sub := range targets {
		b.safeInvoke(sub, n)
	}
}

// SubscriberCount returns the number of subscribers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, sub := range b.subs {
		if sub.topic == topic {
			count++
		}
	}
	return count
}

func (b *Bus) safeInvoke(sub *subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("broadcast handler panicked",
				"topic", n.Topic,
				"subscription_id", sub.id,
				"panic", r,
			)
		}
	}()
	sub.handler(n)
}
