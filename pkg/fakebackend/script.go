// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fakebackend

import (
	"encoding/json"
	"strings"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
)

// Step is one scripted action after the structural event. Exactly one field
// is set.
type Step struct {
	Delta     string
	ToolStart *wire.ToolCallStart
	ToolEnd   *wire.ToolCallEnd
	Retry     *wire.Retry

	// Error writes an error frame carrying the user message id and ends the
	// stream without an assistant message.
	Error *wire.StreamError

	// Hangup ends the response without a terminal event.
	Hangup bool
}

// Script decides the steps for a prompt. The server appends message_end
// unless a step ends the stream first.
type Script func(prompt string) []Step

// Prompt markers understood by EchoScript.
const (
	ToolPrefix   = "/tool"
	RetryMarker  = "#retry"
	FailMarker   = "#fail"
	HangupMarker = "#hangup"
)

// EchoScript replies with the prompt, one word per delta.
//
// # Description
//
//   - A prompt starting with "/tool" first runs an "echo" tool call.
//   - "#retry" streams a partial reply, then a retry signal, then the echo.
//   - "#fail" ends with a retryable rate_limit error frame.
//   - "#hangup" streams one word and ends the response without a terminal
//     event.
func EchoScript(prompt string) []Step {
	var steps []Step

	if rest, ok := strings.CutPrefix(prompt, ToolPrefix); ok {
		text := strings.TrimSpace(rest)
		input, _ := json.Marshal(map[string]string{"text": text})
		output := strings.ToUpper(text)
		steps = append(steps,
			Step{ToolStart: &wire.ToolCallStart{ToolCallID: "call_1", ToolName: "echo", Input: input}},
			Step{ToolEnd: &wire.ToolCallEnd{ToolCallID: "call_1", Output: &output}},
		)
	}

	if strings.Contains(prompt, FailMarker) {
		retryAfter, retryable := 30, true
		return append(steps, Step{Error: &wire.StreamError{
			Message:     "upstream rate limit exceeded",
			ErrorType:   "rate_limit",
			RetryAfter:  &retryAfter,
			IsRetryable: &retryable,
		}})
	}

	words := strings.Fields(prompt)
	if strings.Contains(prompt, HangupMarker) {
		if len(words) > 0 {
			steps = append(steps, Step{Delta: words[0]})
		}
		return append(steps, Step{Hangup: true})
	}

	if strings.Contains(prompt, RetryMarker) {
		steps = append(steps,
			Step{Delta: "this attempt will be discarded"},
			Step{Retry: &wire.Retry{Attempt: 1, MaxAttempts: 3, ErrorType: "overloaded", Delay: 0.01}},
		)
	}

	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		steps = append(steps, Step{Delta: w})
	}
	return steps
}
