// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/transport"
)

// Contract violations. These fail immediately and are never retried.
var (
	// ErrTurnInFlight is returned when a turn is already streaming.
	ErrTurnInFlight = errors.New("session: a turn is already in flight")

	// ErrEmptyMessage is returned for blank message content.
	ErrEmptyMessage = errors.New("session: message content is empty")

	// ErrNoOpener is returned when the controller has no stream opener.
	ErrNoOpener = errors.New("session: no stream opener configured")
)

// ErrIncompleteStream is reported when a stream ends cleanly without a
// terminal message_end or error event. It is handled as a transport fault.
var ErrIncompleteStream = errors.New("session: stream ended before message_end")

// ErrUnconfirmedTurn is reported when message_end arrives before any
// conversation_created or message_start confirmed the user's message. The
// turn is treated as not persisted.
var ErrUnconfirmedTurn = errors.New("session: message_end before the user message was confirmed")

// Kind classifies a failed turn.
type Kind string

const (
	// KindTransport covers network faults, aborts and truncated streams.
	KindTransport Kind = "transport"
	// KindHTTP is a non-2xx response.
	KindHTTP Kind = "http"
	// KindMissingBody is a 2xx response with no readable body.
	KindMissingBody Kind = "missing_body"
	// KindStream is a structured error frame.
	KindStream Kind = "stream"
)

// StreamError is a structured error frame received inside a healthy stream.
type StreamError struct {
	Message    string
	ErrorType  string
	RetryAfter time.Duration
	Retryable  bool
}

func (e *StreamError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("stream error (%s): %s", e.ErrorType, e.Message)
	}
	return "stream error: " + e.Message
}

// TurnError is returned by SendMessage for every failed turn.
//
// # Description
//
// By the time a TurnError reaches the caller the controller has already
// recovered its own state: an unpersisted user message was removed, or a
// persisted turn triggered a reload. Callers only decide what to show and
// where to navigate.
//
// # Fields
//
//   - ConversationID: Known conversation, empty when creation never completed.
//   - Persisted: Whether the server confirmed the user's message.
//   - Kind: Failure class.
//   - ErrorType, RetryAfter, Retryable: Server hints, when present.
//   - Err: The underlying error.
//   - ReloadErr: Set when the post-failure reload itself failed.
type TurnError struct {
	ConversationID string
	Persisted      bool
	Kind           Kind
	ErrorType      string
	RetryAfter     time.Duration
	Retryable      bool
	Err            error
	ReloadErr      error
}

func (e *TurnError) Error() string {
	conv := e.ConversationID
	if conv == "" {
		conv = "<new>"
	}
	return fmt.Sprintf("session: turn failed (%s, conversation=%s, persisted=%t): %v",
		e.Kind, conv, e.Persisted, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// classify maps an error from the transport or the stream to its Kind.
// Anything unrecognised is treated as a transport fault.
func classify(err error) Kind {
	var streamErr *StreamError
	var httpErr *transport.HTTPError
	switch {
	case errors.As(err, &streamErr):
		return KindStream
	case errors.As(err, &httpErr):
		return KindHTTP
	case errors.Is(err, transport.ErrMissingBody):
		return KindMissingBody
	default:
		return KindTransport
	}
}

// newTurnError builds the caller-facing error for err. Persistence and
// conversation fields are filled in by the controller.
func newTurnError(err error) *TurnError {
	te := &TurnError{Kind: classify(err), Err: err}

	var streamErr *StreamError
	var httpErr *transport.HTTPError
	switch {
	case errors.As(err, &streamErr):
		te.ErrorType = streamErr.ErrorType
		te.RetryAfter = streamErr.RetryAfter
		te.Retryable = streamErr.Retryable
	case errors.As(err, &httpErr):
		te.ErrorType = httpErr.ErrorType
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			te.Retryable = true
		}
	case errors.Is(err, context.Canceled):
		te.Retryable = false
	case te.Kind == KindTransport:
		te.Retryable = true
	}
	return te
}
