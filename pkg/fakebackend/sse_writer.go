// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fakebackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
)

// SSEWriter writes typed wire events as SSE frames and flushes each one.
//
// # Thread Safety
//
// Safe for concurrent use; writes are serialized.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	onEvent func(kind string)
	mu      sync.Mutex
}

// NewSSEWriter wraps w. onEvent, if non-nil, is called after every event
// written.
//
// # Outputs
//
//   - error: w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter, onEvent func(kind string)) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("fakebackend: ResponseWriter does not support http.Flusher")
	}
	return &SSEWriter{w: w, flusher: flusher, onEvent: onEvent}, nil
}

// Write encodes ev as "event: <kind>\ndata: <json>\n\n".
func (s *SSEWriter) Write(ev wire.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind(), data); err != nil {
		return fmt.Errorf("write %s: %w", ev.Kind(), err)
	}
	s.flusher.Flush()
	if s.onEvent != nil {
		s.onEvent(string(ev.Kind()))
	}
	return nil
}

// WriteKeepAlive writes an SSE comment. Clients ignore it.
func (s *SSEWriter) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the headers for an event stream response.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
