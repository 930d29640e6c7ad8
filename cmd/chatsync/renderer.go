// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/session"
)

// Palette, deep ocean teals.
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorTealDim = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

type styles struct {
	title    lipgloss.Style
	user     lipgloss.Style
	muted    lipgloss.Style
	warning  lipgloss.Style
	error    lipgloss.Style
	errorBox lipgloss.Style
	toolOK   lipgloss.Style
	toolErr  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorTeal),
		user:    r.NewStyle().Bold(true).Foreground(colorTealDim),
		muted:   r.NewStyle().Foreground(colorSlate),
		warning: r.NewStyle().Foreground(colorWarning),
		error:   r.NewStyle().Foreground(colorError),
		errorBox: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorError).
			Padding(0, 1),
		toolOK:  r.NewStyle().Foreground(colorTeal),
		toolErr: r.NewStyle().Foreground(colorError),
	}
}

// renderer turns controller snapshots into incremental terminal output.
//
// # Description
//
// Streaming text is printed as it grows. When it shrinks the server started
// a new attempt, so the line is broken and a retry notice printed. Tool
// calls are printed once when they start and once when they finish.
//
// # Thread Safety
//
// Safe for concurrent use; snapshots arrive on the turn goroutine.
type renderer struct {
	out io.Writer
	st  styles

	mu        sync.Mutex
	printed   int
	retryShow int
	tools     map[string]datatypes.ToolStatus
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:   out,
		st:    newStyles(lipgloss.NewRenderer(out)),
		tools: make(map[string]datatypes.ToolStatus),
	}
}

func (r *renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// onSnapshot is subscribed to the controller.
func (r *renderer) onSnapshot(s session.Snapshot) {
	if !s.Streaming {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tc := range s.ToolCalls {
		prev, seen := r.tools[tc.ToolCallID]
		if !seen {
			r.printf("%s\n", r.st.muted.Render(fmt.Sprintf("⚙ %s %s", tc.ToolName, compact(tc.Input))))
		}
		if tc.Status.IsTerminal() && (!seen || prev != tc.Status) {
			r.printf("%s\n", r.toolLine(tc))
		}
		r.tools[tc.ToolCallID] = tc.Status
	}

	text := s.StreamingText
	if len(text) < r.printed {
		r.printf("\n")
		r.printed = 0
	}
	if s.Retry != nil && s.Retry.Attempt != r.retryShow {
		r.retryShow = s.Retry.Attempt
		r.printf("%s\n", r.st.warning.Render("↻ "+s.Retry.String()))
	}
	if len(text) > r.printed {
		r.printf("%s", text[r.printed:])
		r.printed = len(text)
	}
}

func (r *renderer) toolLine(tc datatypes.ToolCallRecord) string {
	if tc.Status == datatypes.ToolStatusError {
		msg := ""
		if tc.Error != nil {
			msg = *tc.Error
		}
		return r.st.toolErr.Render(fmt.Sprintf("✗ %s failed: %s", tc.ToolName, msg))
	}
	out := ""
	if tc.Output != nil {
		out = *tc.Output
	}
	return r.st.toolOK.Render(fmt.Sprintf("✓ %s → %s", tc.ToolName, out))
}

// turnDone finishes the streamed line and prints usage.
func (r *renderer) turnDone(res *session.TurnResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := res.AssistantMessage
	if r.printed == 0 {
		r.printf("%s", msg.Content)
	}
	r.printf("\n")
	if u := msg.Usage; u != nil {
		r.printf("%s\n", r.st.muted.Render(fmt.Sprintf("%s · %d→%d tokens · %dms",
			u.Model, u.InputTokens, u.OutputTokens, u.ResponseTimeMs)))
	}
	r.resetLocked()
}

// turnFailed prints err and what the controller did about it.
func (r *renderer) turnFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.printed > 0 {
		r.printf("\n")
	}
	r.resetLocked()

	var te *session.TurnError
	if !errors.As(err, &te) {
		r.printf("%s\n", r.st.errorBox.Render("✗ "+err.Error()))
		return
	}

	lines := []string{"✗ " + te.Err.Error()}
	if te.Persisted {
		lines = append(lines, "Your message was saved; the conversation was reloaded from the server.")
	} else {
		lines = append(lines, "Your message was not saved.")
	}
	if te.ReloadErr != nil {
		lines = append(lines, "Reload failed: "+te.ReloadErr.Error())
	}
	if te.Retryable {
		hint := "You can try again"
		if te.RetryAfter > 0 {
			hint += fmt.Sprintf(" in %s", te.RetryAfter)
		}
		lines = append(lines, hint+".")
	}
	r.printf("%s\n", r.st.errorBox.Render(strings.Join(lines, "\n")))
}

func (r *renderer) resetLocked() {
	r.printed = 0
	r.retryShow = 0
	clear(r.tools)
}

func (r *renderer) sessionExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printf("%s\n", r.st.warning.Render("⚠ Session expired. Log in again or set "+
		"CHATSYNC_TOKEN, then retry."))
}

func (r *renderer) banner(baseURL string) {
	r.printf("%s %s\n", r.st.title.Render("chatsync"), r.st.muted.Render(baseURL))
	r.printf("%s\n", r.st.muted.Render("/new starts over · /load <uuid> opens a conversation · /quit exits"))
}

func (r *renderer) notice(msg string) {
	r.printf("%s\n", r.st.muted.Render(msg))
}

// conversation prints a loaded conversation in full.
func (r *renderer) conversation(s session.Snapshot) {
	if s.Conversation != nil {
		r.printf("%s %s\n", r.st.title.Render(s.Conversation.Title), r.st.muted.Render(s.Conversation.UUID))
	}
	for _, m := range s.Messages {
		if m.Role == datatypes.RoleUser {
			r.printf("%s %s\n", r.st.user.Render("you›"), m.Content)
			continue
		}
		for _, tc := range m.ToolCalls {
			r.printf("%s\n", r.toolLine(tc))
		}
		r.printf("%s\n", m.Content)
	}
}

func compact(raw []byte) string {
	s := strings.Join(strings.Fields(string(raw)), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
