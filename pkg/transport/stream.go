// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
)

// Stream is an open SSE response.
//
// A Stream can be parsed once. Close releases the connection and is safe to
// call more than once.
type Stream struct {
	resp      *http.Response
	url       string
	requestID string
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// StatusCode returns the response status code.
func (s *Stream) StatusCode() int {
	return s.resp.StatusCode
}

// RequestID returns the id sent in X-Request-ID.
func (s *Stream) RequestID() string {
	return s.requestID
}

// Parse feeds the body to the frame parser and calls onFrame for each frame.
//
// # Outputs
//
//   - error: nil on a clean end of stream, the handler's error unchanged, or
//     a *FaultError when reading the body failed or ctx was cancelled.
func (s *Stream) Parse(ctx context.Context, onFrame sse.FrameHandler) error {
	var fault error
	err := sse.Parse(ctx, s.resp.Body, onFrame,
		sse.WithLogger(s.logger),
		sse.WithFailureHandler(func(err error) {
			fault = err
			s.logger.Error("stream read failed",
				"request_id", s.requestID,
				"url", s.url,
				"error", err,
			)
		}),
	)
	if err != nil && fault != nil {
		return &FaultError{Op: "read", URL: s.url, Err: err}
	}
	return err
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.resp.Body.Close()
	})
	return s.closeErr
}
