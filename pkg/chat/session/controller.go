// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session drives one client-side conversation over a streaming backend.
//
// # Description
//
// The Controller reconciles optimistic local state with server-confirmed
// state while a reply streams in. A turn inserts the user's message with a
// temporary id, opens the stream, swaps the temporary id for the server id
// when the turn is persisted, accumulates deltas, tracks tool calls, and
// appends the assistant message on message_end.
//
// Failure recovery depends on how far the server got:
//
//	not persisted → remove the optimistic message, creating → idle
//	persisted     → keep the log, reload the conversation from the server
//
// # Architecture
//
//	SendMessage → Opener.Open → Stream.Parse → wire.Decode → turn (wire.Handler)
//	                                                           ├─ tools.Tracker
//	                                                           └─ retry.Handler
//
// # Thread Safety
//
// One turn runs at a time per Controller; a concurrent SendMessage fails fast
// with ErrTurnInFlight. Snapshot, Subscribe and DismissError may be called
// from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianChatSync/pkg/broadcast"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/retry"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/tools"
	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
)

var tracer = otel.Tracer("aleutian.chatsync.session")

// DefaultReloadTimeout bounds the post-failure reload.
const DefaultReloadTimeout = 10 * time.Second

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Controller.
type Config struct {
	// Opener starts streamed turns. Required.
	Opener Opener

	// Reloader refetches a conversation after a persisted turn fails.
	// Optional; without it the failure is surfaced but nothing is reloaded.
	Reloader Reloader

	// Paths defaults to DefaultPaths().
	Paths Paths

	// Bus receives broadcast.TopicSessionUpdated on every state change.
	// Optional.
	Bus *broadcast.Bus

	Logger  *slog.Logger
	Metrics Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time

	// ReloadTimeout defaults to DefaultReloadTimeout.
	ReloadTimeout time.Duration
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the conversation session state machine.
type Controller struct {
	opener        Opener
	reloader      Reloader
	paths         Paths
	bus           *broadcast.Bus
	logger        *slog.Logger
	metrics       Metrics
	clock         func() time.Time
	reloadTimeout time.Duration

	// inFlight is the single-flight guard. It is the only state touched
	// before mu is taken.
	inFlight atomic.Bool

	tracker *tools.Tracker

	mu            sync.Mutex
	state         State
	conversation  *datatypes.Conversation
	log           *messageLog
	streaming     bool
	streamingText string
	toolCalls     []datatypes.ToolCallRecord
	retryStatus   *retry.Status
	lastErr       *TurnError
	subscribers   map[uint64]func(Snapshot)
	subOrder      []uint64
	nextSubID     uint64
}

// NewController creates an idle Controller.
//
// # Examples
//
//	client, _ := transport.New(transport.Config{BaseURL: "http://localhost:8080"})
//	ctrl := session.NewController(session.Config{
//	    Opener:   session.NewTransportOpener(client),
//	    Reloader: api.NewClient(client, ""),
//	})
//	result, err := ctrl.SendMessage(ctx, "hello")
func NewController(cfg Config) *Controller {
	c := &Controller{
		opener:        cfg.Opener,
		reloader:      cfg.Reloader,
		paths:         cfg.Paths,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		reloadTimeout: cfg.ReloadTimeout,
		log:           newMessageLog(),
		subscribers:   make(map[uint64]func(Snapshot)),
	}
	defaults := DefaultPaths()
	if c.paths.Create == "" {
		c.paths.Create = defaults.Create
	}
	if c.paths.Send == "" {
		c.paths.Send = defaults.Send
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = nopMetrics{}
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.reloadTimeout <= 0 {
		c.reloadTimeout = DefaultReloadTimeout
	}
	c.tracker = tools.NewTracker(
		tools.WithLogger(c.logger),
		tools.WithChangeHandler(c.setToolCalls),
	)
	return c
}

// SendMessage runs one turn.
//
// # Description
//
// Starts a new conversation when none is established, otherwise posts into
// the current one. The call blocks until the stream ends. State is observable
// through Snapshot and Subscribe while it runs.
//
// # Inputs
//
//   - ctx: Cancelling it aborts the stream. An abort is handled exactly like
//     a network fault.
//   - content: The user's message. Must not be blank.
//
// # Outputs
//
//   - *TurnResult: The appended assistant message and ids, on success.
//   - error: ErrEmptyMessage or ErrTurnInFlight without any mutation, or a
//     *TurnError after local recovery has run.
//
// # Limitations
//
//   - No client-side retry; retries are driven by the server's retry events.
func (c *Controller) SendMessage(ctx context.Context, content string) (*TurnResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if c.opener == nil {
		return nil, ErrNoOpener
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Warn("send rejected, turn already in flight")
		return nil, ErrTurnInFlight
	}

	t := c.beginTurn(content)

	ctx, span := tracer.Start(ctx, "session.Controller.SendMessage",
		trace.WithAttributes(
			attribute.Bool("chat.creating", t.creating),
			attribute.String("chat.conversation_id", t.conversationID),
			attribute.Int("chat.content_length", len(content)),
		),
	)
	defer span.End()

	outcome := OutcomeSuccess
	c.metrics.TurnStarted()
	defer func() {
		r := recover()
		if r != nil {
			turnErr := c.recoverTurn(ctx, t, fmt.Errorf("session: turn panicked: %v", r))
			outcome = string(turnErr.Kind)
		}
		c.endTurn(t)
		c.metrics.TurnFinished(outcome, c.clock().Sub(t.started))
		span.SetAttributes(
			attribute.String("chat.outcome", outcome),
			attribute.Bool("chat.persisted", t.persisted),
		)
		if r != nil {
			panic(r)
		}
	}()

	err := c.runTurn(ctx, t)
	if err != nil {
		turnErr := c.recoverTurn(ctx, t, err)
		outcome = string(turnErr.Kind)
		span.RecordError(turnErr)
		span.SetStatus(codes.Error, string(turnErr.Kind))
		return nil, turnErr
	}

	t.result.Duration = c.clock().Sub(t.started)
	c.logger.Debug("turn completed",
		"conversation_id", t.result.ConversationID,
		"created", t.result.Created,
		"assistant_message_id", t.result.AssistantMessage.ID.String(),
		"tool_calls", len(t.result.AssistantMessage.ToolCalls),
		"duration_ms", t.result.Duration.Milliseconds(),
	)
	return t.result, nil
}

// beginTurn performs the optimistic insert.
func (c *Controller) beginTurn(content string) *turn {
	c.tracker.Reset()

	c.mu.Lock()
	t := newTurn(c, content)
	if c.conversation == nil {
		t.creating = true
		c.state = StateCreating
	} else {
		t.conversationID = c.conversation.UUID
	}
	// Temporary ids are random; a collision would mean a broken uuid source.
	if err := c.log.append(datatypes.Message{
		ID:        t.tempID,
		Role:      datatypes.RoleUser,
		Content:   content,
		CreatedAt: t.started,
	}); err != nil {
		c.logger.Error("optimistic insert failed", "error", err)
	}
	c.streaming = true
	c.streamingText = ""
	c.retryStatus = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.publish()
	return t
}

// runTurn opens the stream and dispatches frames until a terminal event.
func (c *Controller) runTurn(ctx context.Context, t *turn) error {
	path := c.paths.Create
	if !t.creating {
		path = fmt.Sprintf(c.paths.Send, url.PathEscape(t.conversationID))
	}

	stream, err := c.opener.Open(ctx, path, sendRequest{Content: t.content})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			c.logger.Debug("failed to close stream", "error", cerr)
		}
	}()

	if err := stream.Parse(ctx, t.handleFrame); err != nil && !errors.Is(err, sse.ErrStop) {
		return err
	}
	if !t.completed {
		return ErrIncompleteStream
	}
	return nil
}

// recoverTurn applies the persisted / not-persisted recovery branch and builds
// the caller-facing error.
func (c *Controller) recoverTurn(ctx context.Context, t *turn, err error) *TurnError {
	turnErr := newTurnError(err)

	c.mu.Lock()
	turnErr.Persisted = t.persisted
	if c.conversation != nil {
		turnErr.ConversationID = c.conversation.UUID
	}
	reloadID := ""
	switch {
	case !t.persisted:
		c.log.remove(t.tempID)
		if t.creating {
			c.state = StateIdle
			c.conversation = nil
		}
	case turnErr.ConversationID != "":
		reloadID = turnErr.ConversationID
	case t.creating:
		// Persisted without a conversation identity; nothing to reload into.
		c.state = StateIdle
	}
	c.lastErr = turnErr
	c.mu.Unlock()

	c.logger.Error("turn failed",
		"kind", turnErr.Kind,
		"conversation_id", turnErr.ConversationID,
		"persisted", turnErr.Persisted,
		"error_type", turnErr.ErrorType,
		"error", err,
	)

	if reloadID != "" {
		turnErr.ReloadErr = c.reload(ctx, reloadID)
	}
	return turnErr
}

// reload replaces the log with the server's copy of conversation id. It runs
// even when ctx was cancelled, bounded by the reload timeout.
func (c *Controller) reload(ctx context.Context, id string) error {
	if c.reloader == nil {
		c.logger.Warn("no reloader configured, skipping reload", "conversation_id", id)
		return nil
	}

	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.reloadTimeout)
	defer cancel()
	reloadCtx, span := tracer.Start(reloadCtx, "session.Controller.reload",
		trace.WithAttributes(attribute.String("chat.conversation_id", id)),
	)
	defer span.End()

	detail, err := c.reloader.GetConversation(reloadCtx, id)
	c.metrics.ReloadFinished(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		c.logger.Error("conversation reload failed",
			"conversation_id", id,
			"error", err,
		)
		return err
	}

	c.mu.Lock()
	c.log.replace(detail.Messages)
	conv := detail.Conversation
	c.conversation = &conv
	c.state = StateActive
	c.mu.Unlock()

	c.logger.Debug("conversation reloaded",
		"conversation_id", id,
		"messages", len(detail.Messages),
	)
	return nil
}

// endTurn clears every per-turn resource. It runs on every exit path of
// SendMessage, including panics.
func (c *Controller) endTurn(t *turn) {
	t.buffer.Reset()
	c.tracker.Reset()

	c.mu.Lock()
	c.streaming = false
	c.streamingText = ""
	c.toolCalls = nil
	c.retryStatus = nil
	c.mu.Unlock()

	c.inFlight.Store(false)
	c.publish()
}

// Reset discards the conversation and returns to idle.
//
// It fails with ErrTurnInFlight while a turn is streaming.
func (c *Controller) Reset() error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer c.inFlight.Store(false)

	c.tracker.Reset()
	c.mu.Lock()
	c.state = StateIdle
	c.conversation = nil
	c.log.reset()
	c.streaming = false
	c.streamingText = ""
	c.toolCalls = nil
	c.retryStatus = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.publish()
	return nil
}

// Load adopts an existing conversation from the server.
//
// On success the log is replaced and the controller is active. On failure
// nothing changes.
func (c *Controller) Load(ctx context.Context, id string) error {
	if c.reloader == nil {
		return errors.New("session: no reloader configured")
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrTurnInFlight
	}
	defer c.inFlight.Store(false)

	ctx, span := tracer.Start(ctx, "session.Controller.Load",
		trace.WithAttributes(attribute.String("chat.conversation_id", id)),
	)
	defer span.End()

	detail, err := c.reloader.GetConversation(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return fmt.Errorf("session: load conversation: %w", err)
	}

	c.mu.Lock()
	c.log.replace(detail.Messages)
	conv := detail.Conversation
	c.conversation = &conv
	c.state = StateActive
	c.lastErr = nil
	c.mu.Unlock()

	c.publish()
	return nil
}

// DismissError clears the surfaced error.
func (c *Controller) DismissError() {
	c.mu.Lock()
	had := c.lastErr != nil
	c.lastErr = nil
	c.mu.Unlock()
	if had {
		c.publish()
	}
}

// Streaming reports whether a turn is in flight.
func (c *Controller) Streaming() bool {
	return c.inFlight.Load()
}

// =============================================================================
// OBSERVATION
// =============================================================================

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
//
// Subscribers are called in registration order on the goroutine that made the
// change, with no lock held. The returned function cancels the subscription.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.subOrder = append(c.subOrder, id)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			for i, sid := range c.subOrder {
				if sid == id {
					c.subOrder = append(c.subOrder[:i], c.subOrder[i+1:]...)
					break
				}
			}
		})
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Messages:      c.log.messages(),
		StreamingText: c.streamingText,
		Streaming:     c.streaming,
	}
	if c.lastErr != nil {
		te := *c.lastErr
		snap.Err = &te
	}
	if c.conversation != nil {
		conv := *c.conversation
		snap.Conversation = &conv
	}
	if len(c.toolCalls) > 0 {
		snap.ToolCalls = make([]datatypes.ToolCallRecord, len(c.toolCalls))
		for i, r := range c.toolCalls {
			snap.ToolCalls[i] = r.Clone()
		}
	}
	if c.retryStatus != nil {
		rs := *c.retryStatus
		snap.Retry = &rs
	}
	return snap
}

func (c *Controller) publish() {
	c.mu.Lock()
	if len(c.subOrder) == 0 && c.bus == nil {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subOrder))
	for _, id := range c.subOrder {
		subs = append(subs, c.subscribers[id])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	c.bus.Publish(broadcast.TopicSessionUpdated, snap)
}

// =============================================================================
// MUTATORS USED BY THE TURN
// =============================================================================

func (c *Controller) setStreamingText(text string) {
	c.mu.Lock()
	c.streamingText = text
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) setRetryStatus(status retry.Status) {
	c.mu.Lock()
	c.retryStatus = &status
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) setToolCalls(records []datatypes.ToolCallRecord) {
	c.mu.Lock()
	c.toolCalls = records
	c.mu.Unlock()
	c.publish()
}
