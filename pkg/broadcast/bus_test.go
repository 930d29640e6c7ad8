// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishToTopicSubscribersInOrder(t *testing.T) {
	bus := New()
	var got []string

	bus.Subscribe(TopicSessionExpired, func(n Notification) { got = append(got, "first") })
	bus.Subscribe(TopicSessionUpdated, func(n Notification) { got = append(got, "other-topic") })
	bus.Subscribe(TopicSessionExpired, func(n Notification) {
		got = append(got, "second")
		payload, ok := n.Data.(SessionExpired)
		require.True(t, ok)
		assert.Equal(t, 401, payload.StatusCode)
		assert.NotEmpty(t, n.ID)
		assert.Equal(t, TopicSessionExpired, n.Topic)
	})

	bus.Publish(TopicSessionExpired, SessionExpired{URL: "/x", StatusCode: 401})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_UnsubscribeLifecycle(t *testing.T) {
	bus := New()
	var calls int

	id, cancel := bus.Subscribe(TopicSessionExpired, func(Notification) { calls++ })
	assert.Equal(t, 1, bus.SubscriberCount(TopicSessionExpired))

	bus.Publish(TopicSessionExpired, nil)
	cancel()
	cancel()
	bus.Publish(TopicSessionExpired, nil)

	assert.Equal(t, 1, calls)
	assert.False(t, bus.Unsubscribe(id))
	assert.Zero(t, bus.SubscriberCount(TopicSessionExpired))
}

func TestBus_PanickingHandlerIsContained(t *testing.T) {
	bus := New()
	var reached bool

	bus.Subscribe(TopicSessionExpired, func(Notification) { panic("listener bug") })
	bus.Subscribe(TopicSessionExpired, func(Notification) { reached = true })

	assert.NotPanics(t, func() { bus.Publish(TopicSessionExpired, nil) })
	assert.True(t, reached)
}

func TestBus_NilBusIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(TopicSessionExpired, nil)

		id, cancel := bus.Subscribe(TopicSessionExpired, func(Notification) {
			t.Error("nil bus delivered a notification")
		})
		assert.Empty(t, id)
		cancel()

		assert.False(t, bus.Unsubscribe("anything"))
		assert.Equal(t, 0, bus.SubscriberCount(TopicSessionExpired))
	})
}

func TestBus_ConcurrentUse(t *testing.T) {
	bus := New()
	var total atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, cancel := bus.Subscribe(TopicSessionUpdated, func(Notification) { total.Add(1) })
			for j := 0; j < 50; j++ {
				bus.Publish(TopicSessionUpdated, j)
			}
			cancel()
		}()
	}
	wg.Wait()

	assert.Positive(t, total.Load())
	assert.Zero(t, bus.SubscriberCount(TopicSessionUpdated))
}
