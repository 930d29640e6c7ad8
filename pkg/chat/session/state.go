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
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/api"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/retry"
	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
	"github.com/AleutianAI/AleutianChatSync/pkg/transport"
)

// State is the conversation lifecycle state.
//
//	idle ──send──▶ creating ──conversation_created──▶ active ──send──▶ active
//	  ▲                │                                  │
//	  └──── failure ───┘◀──────────── Reset ──────────────┘
type State int

const (
	StateIdle State = iota
	StateCreating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of everything the controller exposes to
// presentation layers. It shares no memory with the controller.
type Snapshot struct {
	State         State
	Conversation  *datatypes.Conversation
	Messages      []datatypes.Message
	StreamingText string
	ToolCalls     []datatypes.ToolCallRecord
	Streaming     bool
	Retry         *retry.Status
	Err           *TurnError
}

// ConversationID returns the conversation uuid, or "" before creation.
func (s Snapshot) ConversationID() string {
	if s.Conversation == nil {
		return ""
	}
	return s.Conversation.UUID
}

// TurnResult describes a successful turn.
type TurnResult struct {
	ConversationID   string
	Created          bool
	UserMessageID    datatypes.MessageID
	AssistantMessage datatypes.Message
	Duration         time.Duration
}

// =============================================================================
// Collaborators
// =============================================================================

// Stream is an open event stream for one turn.
type Stream interface {
	Parse(ctx context.Context, onFrame sse.FrameHandler) error
	Close() error
}

// Opener starts a streamed turn.
type Opener interface {
	Open(ctx context.Context, path string, body any) (Stream, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string, body any) (Stream, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, path string, body any) (Stream, error) {
	return f(ctx, path, body)
}

// NewTransportOpener adapts a transport client to Opener.
func NewTransportOpener(client *transport.Client) Opener {
	return OpenerFunc(func(ctx context.Context, path string, body any) (Stream, error) {
		stream, err := client.Open(ctx, path, transport.RequestOptions{Body: body})
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
}

// Reloader fetches the authoritative state of a conversation.
// *api.Client satisfies it.
type Reloader interface {
	GetConversation(ctx context.Context, id string) (*api.ConversationDetail, error)
}

// Paths are the streaming endpoints.
type Paths struct {
	// Create starts a new conversation.
	Create string
	// Send posts into an existing conversation. %s is the escaped uuid.
	Send string
}

// DefaultPaths returns the backend's standard endpoints.
func DefaultPaths() Paths {
	return Paths{
		Create: "/api/conversations/stream",
		Send:   "/api/conversations/%s/messages/stream",
	}
}

// sendRequest is the body of both streaming endpoints.
type sendRequest struct {
	Content string `json:"content" validate:"required"`
}
