// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/api"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
)

// =============================================================================
// SSE fixtures
// =============================================================================

func ev(kind, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", kind, data)
}

func created(convID string, userMsgID int) string {
	return ev("conversation_created", fmt.Sprintf(`{"conversation":{"uuid":%q,"title":"t"},"user_message_id":%d}`, convID, userMsgID))
}

func started(userMsgID int) string {
	return ev("message_start", fmt.Sprintf(`{"user_message_id":%d}`, userMsgID))
}

func delta(text string) string {
	return ev("content_delta", fmt.Sprintf(`{"delta":%q}`, text))
}

func ended(assistantID int, content string) string {
	return ev("message_end", fmt.Sprintf(`{"assistant_message_id":%d,"content":%q,"input_tokens":3,"output_tokens":5,"model":"test-model"}`, assistantID, content))
}

func retried(attempt, maxAttempts int) string {
	return ev("retry", fmt.Sprintf(`{"attempt":%d,"max_attempts":%d,"error_type":"overloaded","delay":0.5}`, attempt, maxAttempts))
}

// =============================================================================
// Streams and openers
// =============================================================================

// readerStream parses an in-memory reader. When ctx is cancelled the pipe
// variant fails its read, as an HTTP body does.
type readerStream struct {
	r         io.Reader
	pw        *io.PipeWriter
	closed    bool
	panicWith any
}

func (s *readerStream) Parse(ctx context.Context, onFrame sse.FrameHandler) error {
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.pw != nil {
		stop := context.AfterFunc(ctx, func() { s.pw.CloseWithError(ctx.Err()) })
		defer stop()
	}
	return sse.Parse(ctx, s.r, onFrame, sse.WithChunkSize(7))
}

func (s *readerStream) Close() error {
	s.closed = true
	return nil
}

type faultReader struct{ err error }

func (r faultReader) Read([]byte) (int, error) { return 0, r.err }

// streamOf returns a stream that yields body, then err (nil means EOF).
func streamOf(body string, err error) *readerStream {
	if err == nil {
		return &readerStream{r: strings.NewReader(body)}
	}
	return &readerStream{r: io.MultiReader(strings.NewReader(body), faultReader{err: err})}
}

type openCall struct {
	path string
	body any
}

// fakeOpener hands out queued results in order.
type fakeOpener struct {
	mu      sync.Mutex
	calls   []openCall
	results []func(ctx context.Context) (Stream, error)
	opened  chan struct{}
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan struct{}, 16)}
}

func (o *fakeOpener) queueStream(s *readerStream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, func(context.Context) (Stream, error) { return s, nil })
}

func (o *fakeOpener) queueBody(body string) *readerStream {
	s := streamOf(body, nil)
	o.queueStream(s)
	return s
}

func (o *fakeOpener) queueError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, func(context.Context) (Stream, error) { return nil, err })
}

// queuePipe returns a writer the test uses to feed the stream live.
func (o *fakeOpener) queuePipe() *io.PipeWriter {
	pr, pw := io.Pipe()
	o.queueStream(&readerStream{r: pr, pw: pw})
	return pw
}

func (o *fakeOpener) Open(ctx context.Context, path string, body any) (Stream, error) {
	o.mu.Lock()
	o.calls = append(o.calls, openCall{path: path, body: body})
	if len(o.results) == 0 {
		o.mu.Unlock()
		return nil, fmt.Errorf("fakeOpener: no result queued for %s", path)
	}
	next := o.results[0]
	o.results = o.results[1:]
	o.mu.Unlock()

	o.opened <- struct{}{}
	return next(ctx)
}

func (o *fakeOpener) paths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.calls))
	for i, c := range o.calls {
		out[i] = c.path
	}
	return out
}

// =============================================================================
// Reloader, metrics, clock
// =============================================================================

type fakeReloader struct {
	mu      sync.Mutex
	ids     []string
	ctxErrs []error
	detail  *api.ConversationDetail
	err     error
}

func (r *fakeReloader) GetConversation(ctx context.Context, id string) (*api.ConversationDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	if r.err != nil {
		return nil, r.err
	}
	if r.detail == nil {
		return &api.ConversationDetail{Conversation: datatypes.Conversation{UUID: id}}, nil
	}
	return r.detail, nil
}

func (r *fakeReloader) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  int
	outcomes []string
	firsts   int
	retries  []string
	tools    []datatypes.ToolStatus
	reloads  []error
}

func (m *recordingMetrics) TurnStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) TurnFinished(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) FirstDelta(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firsts++
}

func (m *recordingMetrics) RetrySignalled(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, errorType)
}

func (m *recordingMetrics) ToolCallFinished(status datatypes.ToolStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append(m.tools, status)
}

func (m *recordingMetrics) ReloadFinished(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads = append(m.reloads, err)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

// snapshotRecorder collects every published snapshot.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func (r *snapshotRecorder) streamingTexts() []string {
	var out []string
	last := "\x00"
	for _, s := range r.all() {
		if s.StreamingText != last {
			out = append(out, s.StreamingText)
			last = s.StreamingText
		}
	}
	return out
}
