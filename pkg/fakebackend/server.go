// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fakebackend is a scripted conversation backend speaking the
// streaming protocol the chat client consumes.
//
// # Description
//
// It serves three endpoints over gin:
//
//	POST /api/conversations/stream                  new conversation turn
//	POST /api/conversations/:id/messages/stream     turn in an existing conversation
//	GET  /api/conversations/:id                     conversation with messages
//
// and, when login is required, POST /api/login which sets a session cookie.
// Replies come from a Script; EchoScript is the default. Deltas are paced
// by a token-bucket limiter so clients see a realistic stream.
//
// The CLI's mock-server command and the integration tests both run it.
//
// # Thread Safety
//
// Server is safe for concurrent use once built.
package fakebackend

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
	"github.com/AleutianAI/AleutianChatSync/pkg/observability"
)

var tracer = otel.Tracer("aleutian.chatsync.fakebackend")

// SessionCookie is the cookie set by /api/login.
const SessionCookie = "chatsync_session"

// MockModel is the model name reported in message_end.
const MockModel = "mock-echo"

// Stream statuses recorded in BackendMetrics.
const (
	statusSuccess    = "success"
	statusError      = "error"
	statusHangup     = "hangup"
	statusDisconnect = "client_disconnect"
)

type sendRequest struct {
	Content string `json:"content" validate:"required,max=32000"`
}

// =============================================================================
// Server
// =============================================================================

// Server is the mock backend.
type Server struct {
	store        *Store
	script       Script
	interval     time.Duration
	requireLogin bool
	metrics      *observability.BackendMetrics
	logger       *slog.Logger
	validate     *validator.Validate
	engine       *gin.Engine

	mu       sync.Mutex
	sessions map[string]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithScript replaces EchoScript.
func WithScript(script Script) Option {
	return func(s *Server) { s.script = script }
}

// WithDeltaInterval paces content deltas. Zero streams them unthrottled.
func WithDeltaInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

// WithLoginRequired rejects conversation requests without a valid session
// cookie with 401.
func WithLoginRequired() Option {
	return func(s *Server) { s.requireLogin = true }
}

// WithMetrics records streams and events.
func WithMetrics(m *observability.BackendMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore shares an existing store.
func WithStore(store *Store) Option {
	return func(s *Server) { s.store = store }
}

// New builds a Server and its router.
func New(opts ...Option) *Server {
	s := &Server{
		script:   EchoScript,
		logger:   slog.Default(),
		validate: validator.New(),
		sessions: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewStore()
	}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("chatsync-mock"), s.logRequests)

	r.POST("/api/login", s.handleLogin)
	convs := r.Group("/api/conversations", s.requireSession)
	convs.POST("/stream", s.handleCreate)
	convs.POST("/:id/messages/stream", s.handleSend)
	convs.GET("/:id", s.handleGet)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// ExpireSessions invalidates every session cookie issued so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("mock request",
		"method", c.Request.Method,
		"route", c.FullPath(),
		"status", c.Writer.Status(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Server) requireSession(c *gin.Context) {
	if !s.requireLogin {
		c.Next()
		return
	}
	token, err := c.Cookie(SessionCookie)
	if err == nil {
		s.mu.Lock()
		_, ok := s.sessions[token]
		s.mu.Unlock()
		if ok {
			c.Next()
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      "session expired",
		"error_type": "unauthorized",
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleLogin(c *gin.Context) {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = struct{}{}
	s.mu.Unlock()
	c.SetCookie(SessionCookie, token, 3600, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGet(c *gin.Context) {
	detail, err := s.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "error_type": "not_found"})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleCreate(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	conv := s.store.Create(req.Content)
	user, err := s.store.Append(conv.UUID, datatypes.Message{Role: datatypes.RoleUser, Content: req.Content})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}
	userID, _ := user.ID.Int()
	s.stream(c, observability.EndpointCreate, conv.UUID, req.Content, userID,
		wire.ConversationCreated{Conversation: conv, UserMessageID: userID})
}

func (s *Server) handleSend(c *gin.Context) {
	req, ok := s.bind(c)
	if !ok {
		return
	}
	id := c.Param("id")
	user, err := s.store.Append(id, datatypes.Message{Role: datatypes.RoleUser, Content: req.Content})
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found", "error_type": "not_found"})
		return
	}
	userID, _ := user.ID.Int()
	s.stream(c, observability.EndpointSend, id, req.Content, userID,
		wire.MessageStart{UserMessageID: userID})
}

func (s *Server) bind(c *gin.Context) (sendRequest, bool) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "error_type": "validation"})
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "content is required", "error_type": "validation"})
		return req, false
	}
	return req, true
}

// stream writes the opening event, the scripted steps and, unless a step
// ends the stream, message_end with the stored assistant message.
func (s *Server) stream(c *gin.Context, endpoint observability.Endpoint, convID, prompt string, userID int64, opening wire.Event) {
	ctx, span := tracer.Start(c.Request.Context(), "fakebackend.stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.conversation_id", convID),
		attribute.String("chat.endpoint", string(endpoint)),
	)

	status := statusSuccess
	if s.metrics != nil {
		done := s.metrics.StreamStarted(endpoint)
		defer func() { done(status) }()
	}

	var onEvent func(string)
	if s.metrics != nil {
		onEvent = s.metrics.EventSent
	}
	w, err := NewSSEWriter(c.Writer, onEvent)
	if err != nil {
		status = statusError
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming unsupported")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	started := time.Now()
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.interval), 1)
	}

	if err := w.WriteKeepAlive(); err != nil {
		status = statusDisconnect
		return
	}
	if err := w.Write(opening); err != nil {
		status = statusDisconnect
		return
	}

	var content strings.Builder
	var tools []datatypes.ToolCallRecord
	for _, step := range s.script(prompt) {
		var ev wire.Event
		switch {
		case step.Hangup:
			status = statusHangup
			return

		case step.Error != nil:
			e := *step.Error
			e.UserMessageID = &userID
			status = statusError
			if err := w.Write(e); err != nil {
				status = statusDisconnect
			}
			return

		case step.ToolStart != nil:
			tools = append(tools, datatypes.ToolCallRecord{
				ToolCallID: step.ToolStart.ToolCallID,
				ToolName:   step.ToolStart.ToolName,
				Input:      step.ToolStart.Input,
				Status:     datatypes.ToolStatusPending,
			})
			ev = *step.ToolStart

		case step.ToolEnd != nil:
			finishTool(tools, *step.ToolEnd)
			ev = *step.ToolEnd

		case step.Retry != nil:
			content.Reset()
			ev = *step.Retry

		default:
			if err := limiter.Wait(ctx); err != nil {
				status = statusDisconnect
				return
			}
			content.WriteString(step.Delta)
			ev = wire.ContentDelta{Delta: step.Delta}
		}
		if err := w.Write(ev); err != nil {
			status = statusDisconnect
			return
		}
	}

	elapsed := int(time.Since(started).Milliseconds())
	inputTokens := len(strings.Fields(prompt))
	outputTokens := len(strings.Fields(content.String()))
	assistant, err := s.store.Append(convID, datatypes.Message{
		Role:      datatypes.RoleAssistant,
		Content:   content.String(),
		ToolCalls: tools,
		Usage: &datatypes.Usage{
			InputTokens:    inputTokens,
			OutputTokens:   outputTokens,
			Model:          MockModel,
			ResponseTimeMs: elapsed,
		},
	})
	if err != nil {
		status = statusError
		span.RecordError(err)
		_ = w.Write(wire.StreamError{Message: "failed to store reply", ErrorType: "internal", UserMessageID: &userID})
		return
	}
	assistantID, _ := assistant.ID.Int()
	if err := w.Write(wire.MessageEnd{
		AssistantMessageID: assistantID,
		Content:            assistant.Content,
		InputTokens:        &inputTokens,
		OutputTokens:       &outputTokens,
		Model:              MockModel,
		ResponseTimeMs:     &elapsed,
	}); err != nil {
		status = statusDisconnect
	}
}

func finishTool(tools []datatypes.ToolCallRecord, end wire.ToolCallEnd) {
	for i := range tools {
		if tools[i].ToolCallID != end.ToolCallID {
			continue
		}
		tools[i].Output = end.Output
		tools[i].Error = end.Error
		tools[i].Status = datatypes.ToolStatusSuccess
		if end.Error != nil && *end.Error != "" {
			tools[i].Status = datatypes.ToolStatusError
		}
		return
	}
}
