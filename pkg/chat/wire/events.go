// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire defines the typed events carried by a conversation stream.
//
// # Description
//
// Each SSE frame produced by package sse is decoded into exactly one Event.
// Event is a closed set: only types in this package implement it. Consumers
// route events through Dispatch with a Handler, which has one method per kind,
// so adding a kind breaks every Handler at compile time until it is handled.
//
// # Wire Format
//
//	event: content_delta
//	data: {"delta":"Hi"}
package wire

import (
	"encoding/json"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// Kind is the SSE event name of a frame.
type Kind string

const (
	KindConversationCreated Kind = "conversation_created"
	KindMessageStart        Kind = "message_start"
	KindToolCallStart       Kind = "tool_call_start"
	KindToolCallEnd         Kind = "tool_call_end"
	KindContentDelta        Kind = "content_delta"
	KindMessageEnd          Kind = "message_end"
	KindRetry               Kind = "retry"
	KindError               Kind = "error"
)

// Kinds lists every known kind in protocol order.
var Kinds = []Kind{
	KindConversationCreated,
	KindMessageStart,
	KindToolCallStart,
	KindToolCallEnd,
	KindContentDelta,
	KindMessageEnd,
	KindRetry,
	KindError,
}

// Event is one typed stream event.
type Event interface {
	Kind() Kind
	accept(h Handler) error
}

// Handler receives events by kind.
type Handler interface {
	OnConversationCreated(ConversationCreated) error
	OnMessageStart(MessageStart) error
	OnToolCallStart(ToolCallStart) error
	OnToolCallEnd(ToolCallEnd) error
	OnContentDelta(ContentDelta) error
	OnMessageEnd(MessageEnd) error
	OnRetry(Retry) error
	OnError(StreamError) error
}

// Dispatch routes ev to the matching Handler method.
func Dispatch(ev Event, h Handler) error {
	return ev.accept(h)
}

// =============================================================================
// Structural events
// =============================================================================

// ConversationCreated opens a brand-new conversation. It carries the real
// conversation identity and the server id of the user's message.
type ConversationCreated struct {
	Conversation  datatypes.Conversation `json:"conversation"`
	UserMessageID int64                  `json:"user_message_id"`
}

func (ConversationCreated) Kind() Kind { return KindConversationCreated }

func (e ConversationCreated) accept(h Handler) error { return h.OnConversationCreated(e) }

// MessageStart opens a turn in an existing conversation.
type MessageStart struct {
	UserMessageID int64 `json:"user_message_id"`
}

func (MessageStart) Kind() Kind { return KindMessageStart }

func (e MessageStart) accept(h Handler) error { return h.OnMessageStart(e) }

// =============================================================================
// Tool events
// =============================================================================

// ToolCallStart announces a tool invocation.
type ToolCallStart struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

func (ToolCallStart) Kind() Kind { return KindToolCallStart }

func (e ToolCallStart) accept(h Handler) error { return h.OnToolCallStart(e) }

// ToolCallEnd finishes a tool invocation. A non-empty Error means it failed.
type ToolCallEnd struct {
	ToolCallID string  `json:"tool_call_id"`
	Output     *string `json:"output"`
	Error      *string `json:"error"`
}

func (ToolCallEnd) Kind() Kind { return KindToolCallEnd }

func (e ToolCallEnd) accept(h Handler) error { return h.OnToolCallEnd(e) }

// =============================================================================
// Content events
// =============================================================================

// ContentDelta is an incremental fragment of the assistant reply.
type ContentDelta struct {
	Delta string `json:"delta"`
}

func (ContentDelta) Kind() Kind { return KindContentDelta }

func (e ContentDelta) accept(h Handler) error { return h.OnContentDelta(e) }

// MessageEnd is the terminal success event of a turn.
type MessageEnd struct {
	AssistantMessageID int64    `json:"assistant_message_id"`
	Content            string   `json:"content"`
	InputTokens        *int     `json:"input_tokens,omitempty"`
	OutputTokens       *int     `json:"output_tokens,omitempty"`
	Model              string   `json:"model,omitempty"`
	ResponseTimeMs     *int     `json:"response_time_ms,omitempty"`
	CostUSD            *float64 `json:"cost_usd,omitempty"`
}

func (MessageEnd) Kind() Kind { return KindMessageEnd }

func (e MessageEnd) accept(h Handler) error { return h.OnMessageEnd(e) }

// Usage converts the optional accounting fields. It returns nil when the
// server sent none of them.
func (e MessageEnd) Usage() *datatypes.Usage {
	if e.InputTokens == nil && e.OutputTokens == nil && e.Model == "" &&
		e.ResponseTimeMs == nil && e.CostUSD == nil {
		return nil
	}
	u := &datatypes.Usage{Model: e.Model}
	if e.InputTokens != nil {
		u.InputTokens = *e.InputTokens
	}
	if e.OutputTokens != nil {
		u.OutputTokens = *e.OutputTokens
	}
	if e.ResponseTimeMs != nil {
		u.ResponseTimeMs = *e.ResponseTimeMs
	}
	if e.CostUSD != nil {
		u.CostUSD = *e.CostUSD
	}
	return u
}

// =============================================================================
// Retry and failure events
// =============================================================================

// Retry tells the client the server is retrying upstream generation. Content
// streamed for the failed attempt is void.
type Retry struct {
	Attempt     int     `json:"attempt"`
	MaxAttempts int     `json:"max_attempts"`
	ErrorType   string  `json:"error_type"`
	Delay       float64 `json:"delay"`
}

func (Retry) Kind() Kind { return KindRetry }

func (e Retry) accept(h Handler) error { return h.OnRetry(e) }

// StreamError is a structured error frame inside an otherwise healthy stream.
//
// UserMessageID is present when the server persisted the user's message
// before failing.
type StreamError struct {
	Message       string `json:"error"`
	ErrorType     string `json:"error_type,omitempty"`
	UserMessageID *int64 `json:"user_message_id,omitempty"`
	RetryAfter    *int   `json:"retry_after,omitempty"`
	IsRetryable   *bool  `json:"is_retryable,omitempty"`
}

func (StreamError) Kind() Kind { return KindError }

func (e StreamError) accept(h Handler) error { return h.OnError(e) }
