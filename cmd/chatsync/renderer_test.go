// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/retry"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
)

func strPtr(s string) *string { return &s }

func TestRenderer_StreamsIncrementally(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: "Hel"})
	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: "Hello"})
	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: "Hello"})
	r.turnDone(&session.TurnResult{AssistantMessage: datatypes.Message{
		Content: "Hello",
		Usage:   &datatypes.Usage{Model: "m", InputTokens: 1, OutputTokens: 2, ResponseTimeMs: 30},
	}})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Hello\n"), out)
	assert.Contains(t, out, "m · 1→2 tokens · 30ms")
}

func TestRenderer_RetryBreaksLine(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: "bad"})
	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: ""})
	r.onSnapshot(session.Snapshot{Streaming: true, Retry: &retry.Status{Attempt: 1, MaxAttempts: 3}})
	r.onSnapshot(session.Snapshot{Streaming: true, StreamingText: "good", Retry: &retry.Status{Attempt: 1, MaxAttempts: 3}})

	assert.Equal(t, "bad\n↻ retrying, attempt 1 of 3\ngood", buf.String())
}

func TestRenderer_ToolCallsPrintedOnce(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	pending := datatypes.ToolCallRecord{ToolCallID: "t1", ToolName: "search", Input: []byte(`{"q": "go"}`), Status: datatypes.ToolStatusPending}
	done := pending
	done.Status = datatypes.ToolStatusError
	done.Error = strPtr("boom")

	r.onSnapshot(session.Snapshot{Streaming: true, ToolCalls: []datatypes.ToolCallRecord{pending}})
	r.onSnapshot(session.Snapshot{Streaming: true, ToolCalls: []datatypes.ToolCallRecord{pending}})
	r.onSnapshot(session.Snapshot{Streaming: true, ToolCalls: []datatypes.ToolCallRecord{done}})
	r.onSnapshot(session.Snapshot{Streaming: true, ToolCalls: []datatypes.ToolCallRecord{done}})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "⚙ search"))
	assert.Equal(t, 1, strings.Count(out, "✗ search failed: boom"))
	assert.Contains(t, out, `{"q": "go"}`)
}

func TestRenderer_IgnoresIdleSnapshots(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)
	r.onSnapshot(session.Snapshot{StreamingText: "stale"})
	assert.Empty(t, buf.String())
}

func TestRenderer_TurnFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "persisted retryable",
			err: &session.TurnError{
				Persisted: true, Kind: session.KindStream, Retryable: true,
				RetryAfter: 30 * time.Second, Err: errors.New("rate limited"),
			},
			want: []string{"rate limited", "was saved", "try again in 30s"},
		},
		{
			name: "not persisted",
			err:  &session.TurnError{Kind: session.KindHTTP, Err: errors.New("HTTP 401")},
			want: []string{"HTTP 401", "was not saved"},
		},
		{
			name: "reload failed",
			err: &session.TurnError{
				Persisted: true, Kind: session.KindTransport,
				Err: errors.New("reset"), ReloadErr: errors.New("down"),
			},
			want: []string{"Reload failed: down"},
		},
		{
			name: "plain error",
			err:  session.ErrTurnInFlight,
			want: []string{"already in flight"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newRenderer(&buf).turnFailed(tt.err)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
