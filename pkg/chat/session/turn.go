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
	"errors"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/retry"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
)

// turn is the arena for one in-flight turn. Every field is discarded when
// SendMessage returns; nothing here is visible to the next turn.
type turn struct {
	c *Controller

	content        string
	tempID         datatypes.MessageID
	creating       bool
	conversationID string
	started        time.Time

	userID    datatypes.MessageID
	persisted bool
	completed bool
	sawDelta  bool
	buffer    strings.Builder
	retry     *retry.Handler
	result    *TurnResult
}

var _ wire.Handler = (*turn)(nil)

func newTurn(c *Controller, content string) *turn {
	tempID := datatypes.NewTemporaryID()
	t := &turn{
		c:       c,
		content: content,
		tempID:  tempID,
		userID:  tempID,
		started: c.clock(),
	}
	t.retry = retry.NewHandler(t.discardAttempt, c.setRetryStatus)
	return t
}

// handleFrame decodes one frame and dispatches it. Unknown kinds and
// payloads that do not fit their kind are dropped like malformed frames.
func (t *turn) handleFrame(f sse.Frame) error {
	ev, err := wire.Decode(f)
	if err != nil {
		t.c.logger.Debug("dropping undecodable frame",
			"event", f.Event,
			"unknown_kind", errors.Is(err, wire.ErrUnknownKind),
			"error", err,
		)
		return nil
	}
	return wire.Dispatch(ev, t)
}

// reconcile marks the user's message persisted and swaps its temporary id for
// the server id in place. Repeated structural events are ignored.
func (t *turn) reconcile(serverID int64) {
	c := t.c
	c.mu.Lock()
	if t.persisted {
		c.mu.Unlock()
		c.logger.Warn("duplicate structural event ignored", "user_message_id", serverID)
		return
	}
	t.persisted = true
	serverMsgID := datatypes.ServerID(serverID)
	if err := c.log.swapID(t.tempID, serverMsgID); err != nil {
		c.logger.Error("failed to reconcile user message",
			"temporary_id", t.tempID.String(),
			"user_message_id", serverID,
			"error", err,
		)
	} else {
		t.userID = serverMsgID
	}
	c.mu.Unlock()
}

// discardAttempt clears content streamed by a failed upstream attempt.
func (t *turn) discardAttempt() {
	t.buffer.Reset()
	t.sawDelta = false
	t.c.setStreamingText("")
}

// =============================================================================
// wire.Handler
// =============================================================================

func (t *turn) OnConversationCreated(e wire.ConversationCreated) error {
	t.reconcile(e.UserMessageID)

	if t.creating {
		c := t.c
		c.mu.Lock()
		conv := e.Conversation
		c.conversation = &conv
		c.state = StateActive
		t.conversationID = conv.UUID
		c.mu.Unlock()
		c.logger.Debug("conversation created", "conversation_id", conv.UUID)
	}
	t.c.publish()
	return nil
}

func (t *turn) OnMessageStart(e wire.MessageStart) error {
	t.reconcile(e.UserMessageID)
	t.c.publish()
	return nil
}

func (t *turn) OnToolCallStart(e wire.ToolCallStart) error {
	t.c.tracker.Start(e.ToolCallID, e.ToolName, e.Input)
	return nil
}

func (t *turn) OnToolCallEnd(e wire.ToolCallEnd) error {
	if !t.c.tracker.Complete(e.ToolCallID, e.Output, e.Error) {
		return nil
	}
	status := datatypes.ToolStatusSuccess
	if e.Error != nil && *e.Error != "" {
		status = datatypes.ToolStatusError
	}
	t.c.metrics.ToolCallFinished(status)
	return nil
}

func (t *turn) OnContentDelta(e wire.ContentDelta) error {
	if !t.sawDelta {
		t.sawDelta = true
		t.c.metrics.FirstDelta(t.c.clock().Sub(t.started))
	}
	t.buffer.WriteString(e.Delta)
	t.c.setStreamingText(t.buffer.String())
	return nil
}

func (t *turn) OnRetry(e wire.Retry) error {
	t.c.logger.Info("server retrying generation",
		"attempt", e.Attempt,
		"max_attempts", e.MaxAttempts,
		"error_type", e.ErrorType,
	)
	t.c.metrics.RetrySignalled(e.ErrorType)
	t.retry.Handle(e)
	return nil
}

// OnMessageEnd appends the assistant message and stops the parse. The
// accumulated deltas are the reply; the event's content is used only when no
// delta arrived. A message_end that precedes any structural event fails the
// turn, since the user's message never received a server id.
func (t *turn) OnMessageEnd(e wire.MessageEnd) error {
	c := t.c

	if !t.persisted {
		c.logger.Warn("message_end before the user message was confirmed",
			"temporary_id", t.tempID.String(),
			"assistant_message_id", e.AssistantMessageID,
		)
		return ErrUnconfirmedTurn
	}

	content := t.buffer.String()
	if content == "" {
		content = e.Content
	}
	msg := datatypes.Message{
		ID:        datatypes.ServerID(e.AssistantMessageID),
		Role:      datatypes.RoleAssistant,
		Content:   content,
		ToolCalls: c.tracker.Snapshot(),
		Usage:     e.Usage(),
		CreatedAt: c.clock(),
	}

	c.mu.Lock()
	if err := c.log.append(msg); err != nil {
		c.logger.Error("failed to append assistant message", "error", err)
	}
	c.streamingText = ""
	t.result = &TurnResult{
		ConversationID:   t.conversationID,
		Created:          t.creating,
		UserMessageID:    t.userID,
		AssistantMessage: msg.Clone(),
	}
	c.mu.Unlock()

	t.buffer.Reset()
	t.completed = true
	c.publish()
	return sse.ErrStop
}

// OnError records a structured error frame and stops the parse. A frame that
// carries user_message_id confirms the user's message first.
func (t *turn) OnError(e wire.StreamError) error {
	if e.UserMessageID != nil {
		t.reconcile(*e.UserMessageID)
	}

	streamErr := &StreamError{
		Message:   e.Message,
		ErrorType: e.ErrorType,
	}
	if e.RetryAfter != nil {
		streamErr.RetryAfter = time.Duration(*e.RetryAfter) * time.Second
	}
	if e.IsRetryable != nil {
		streamErr.Retryable = *e.IsRetryable
	}
	return streamErr
}
