// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
	"github.com/AleutianAI/AleutianChatSync/pkg/config"
	"github.com/AleutianAI/AleutianChatSync/pkg/fakebackend"
	"github.com/AleutianAI/AleutianChatSync/pkg/logging"
)

func newTestStack(t *testing.T, opts ...fakebackend.Option) (*clientStack, *fakebackend.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := fakebackend.New(append(opts, fakebackend.WithLogger(logging.Discard()))...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = srv.URL
	stack, err := newClientStack(cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(stack.close)
	return stack, backend
}

func runREPL(t *testing.T, stack *clientStack, input string) string {
	t.Helper()
	var out bytes.Buffer
	r := newRenderer(&out)
	defer stack.controller.Subscribe(r.onSnapshot)()
	defer stack.onSessionExpired(r.sessionExpired)()

	p := &repl{ctrl: stack.controller, r: r, out: &out}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.run(ctx, strings.NewReader(input)))
	return out.String()
}

func TestREPL_ConversationFlow(t *testing.T) {
	stack, backend := newTestStack(t)

	out := runREPL(t, stack, "hello world\n\n/tool ping\n/new\nfresh start\n/quit\nnever sent\n")

	assert.Contains(t, out, "hello world\n")
	assert.Contains(t, out, "✓ echo → PING")
	assert.Contains(t, out, "Started a new conversation.")
	assert.Contains(t, out, "fresh start\n")
	assert.NotContains(t, out, "never sent")
	assert.Equal(t, 2, backend.Store().Len())

	snap := stack.controller.Snapshot()
	assert.Equal(t, session.StateActive, snap.State)
	assert.Len(t, snap.Messages, 2)
}

func TestREPL_LoadConversation(t *testing.T) {
	stack, backend := newTestStack(t)
	conv := backend.Store().Create("stored")

	unknown := "0b6c43f4-8f4a-4d2e-9a51-3c1f0e7d2b9a"
	out := runREPL(t, stack, "/load "+conv.UUID+"\n/load\n/load missing-id\n/load "+unknown+"\n")

	assert.Contains(t, out, "stored")
	assert.Contains(t, out, "usage: /load <uuid>")
	assert.Contains(t, out, `invalid conversation id "missing-id"`)
	assert.Contains(t, out, "404")
	assert.Equal(t, conv.UUID, stack.controller.Snapshot().ConversationID())
}

func TestREPL_FailureIsReported(t *testing.T) {
	stack, _ := newTestStack(t)
	out := runREPL(t, stack, "#fail please\n")

	assert.Contains(t, out, "upstream rate limit exceeded")
	assert.Contains(t, out, "was saved")
	assert.Contains(t, out, "try again in 30s")
	assert.Len(t, stack.controller.Snapshot().Messages, 1)
}

func TestREPL_SessionExpiredHint(t *testing.T) {
	stack, _ := newTestStack(t, fakebackend.WithLoginRequired())
	out := runREPL(t, stack, "hi\n")

	assert.Contains(t, out, "Session expired")
	assert.Contains(t, out, "was not saved")
	assert.Empty(t, stack.controller.Snapshot().Messages)
}

func TestSendOnce(t *testing.T) {
	stack, backend := newTestStack(t)
	var out bytes.Buffer
	r := newRenderer(&out)
	defer stack.controller.Subscribe(r.onSnapshot)()

	require.NoError(t, sendOnce(context.Background(), stack.controller, r, "", "one shot\n"))
	assert.Contains(t, out.String(), "one shot")
	assert.Contains(t, out.String(), "conversation ")

	convID := stack.controller.Snapshot().ConversationID()
	stack2, _ := newTestStackSharing(t, backend)
	require.NoError(t, sendOnce(context.Background(), stack2.controller, newRenderer(&out), convID, "follow up"))

	detail, err := backend.Store().Get(convID)
	require.NoError(t, err)
	assert.Len(t, detail.Messages, 4)

	assert.ErrorIs(t, sendOnce(context.Background(), stack.controller, r, "", "   "), session.ErrEmptyMessage)
}

func newTestStackSharing(t *testing.T, backend *fakebackend.Server) (*clientStack, *fakebackend.Server) {
	t.Helper()
	return newTestStack(t, fakebackend.WithStore(backend.Store()))
}

func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "chatsync dev\n", out.String())
}

func TestRootCmd_ConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	for _, key := range []string{config.EnvBaseURL, config.EnvToken, config.EnvLogLevel} {
		t.Setenv(key, "")
	}

	run := func() (string, error) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--config", path, "config", "init"})
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run()
	require.NoError(t, err)
	assert.Equal(t, "wrote "+path+"\n", out)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = run()
	assert.ErrorIs(t, err, os.ErrExist)
}
