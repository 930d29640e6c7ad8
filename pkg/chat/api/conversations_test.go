// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/transport"
)

type stubGetter struct {
	paths []string
	body  string
	err   error
}

func (s *stubGetter) GetJSON(_ context.Context, path string, out any) error {
	s.paths = append(s.paths, path)
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.body), out)
}

func TestGetConversation_DecodesDetail(t *testing.T) {
	getter := &stubGetter{body: `{
		"conversation": {"uuid": "c-1", "title": "Greeting"},
		"messages": [
			{"id": 1, "role": "user", "content": "hello"},
			{"id": 2, "role": "assistant", "content": "hi", "tool_calls": [
				{"tool_call_id": "t1", "tool_name": "search", "status": "success", "output": "ok"}
			]}
		]
	}`}

	detail, err := NewClient(getter, "").GetConversation(context.Background(), "c-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/conversations/c-1"}, getter.paths)
	assert.Equal(t, "Greeting", detail.Conversation.Title)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, datatypes.ServerID(1), detail.Messages[0].ID)
	assert.Equal(t, datatypes.RoleAssistant, detail.Messages[1].Role)
	require.Len(t, detail.Messages[1].ToolCalls, 1)
	assert.Equal(t, datatypes.ToolStatusSuccess, detail.Messages[1].ToolCalls[0].Status)
}

func TestGetConversation_FillsMissingUUIDAndEscapesPath(t *testing.T) {
	getter := &stubGetter{body: `{"messages": []}`}

	detail, err := NewClient(getter, "/v2/chats/%s").GetConversation(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, "a b", detail.Conversation.UUID)
	assert.Equal(t, []string{"/v2/chats/a%20b"}, getter.paths)
}

func TestGetConversation_Errors(t *testing.T) {
	t.Run("blank id", func(t *testing.T) {
		getter := &stubGetter{}
		_, err := NewClient(getter, "").GetConversation(context.Background(), "  ")
		assert.ErrorIs(t, err, ErrEmptyConversationID)
		assert.Empty(t, getter.paths)
	})

	t.Run("transport error is wrapped", func(t *testing.T) {
		cause := &transport.HTTPError{StatusCode: 404, Message: "not found"}
		_, err := NewClient(&stubGetter{err: cause}, "").GetConversation(context.Background(), "c-1")

		var httpErr *transport.HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, 404, httpErr.StatusCode)
	})

	t.Run("temporary id from server", func(t *testing.T) {
		getter := &stubGetter{body: `{"messages": [{"id": "tmp-123", "role": "user"}]}`}
		_, err := NewClient(getter, "").GetConversation(context.Background(), "c-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-server id")
	})
}

func TestGetConversation_OverTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c-9", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"conversation":{"uuid":"c-9"},"messages":[{"id":7,"role":"user","content":"x"}]}`)
	}))
	defer srv.Close()

	client, err := transport.NewWithDoer(srv.Client(), transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	detail, err := NewClient(client, "").GetConversation(context.Background(), "c-9")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, datatypes.ServerID(7), detail.Messages[0].ID)
}
