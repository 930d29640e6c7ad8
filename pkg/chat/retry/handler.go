// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry adapts mid-stream retry events into observable status.
package retry

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
)

// Status is the externally visible retry indicator.
type Status struct {
	Attempt     int
	MaxAttempts int
	ErrorType   string
	Delay       time.Duration
}

// String renders the indicator shown while the server retries.
func (s Status) String() string {
	return fmt.Sprintf("retrying, attempt %d of %d", s.Attempt, s.MaxAttempts)
}

// StatusFromEvent converts a retry event. Delay arrives in seconds.
func StatusFromEvent(ev wire.Retry) Status {
	return Status{
		Attempt:     ev.Attempt,
		MaxAttempts: ev.MaxAttempts,
		ErrorType:   ev.ErrorType,
		Delay:       time.Duration(ev.Delay * float64(time.Second)),
	}
}

// Handler dispatches retry events to injected callbacks.
//
// # Description
//
// Handle always calls reset before report. Observers that render the retry
// banner must never see content from the discarded attempt at the same time.
// Handler keeps no state between invocations.
type Handler struct {
	reset  func()
	report func(Status)
}

// NewHandler creates a Handler. Either callback may be nil.
func NewHandler(reset func(), report func(Status)) *Handler {
	return &Handler{reset: reset, report: report}
}

// Handle processes one retry event and returns the reported status.
func (h *Handler) Handle(ev wire.Retry) Status {
	status := StatusFromEvent(ev)
	if h.reset != nil {
		h.reset()
	}
	if h.report != nil {
		h.report(status)
	}
	return status
}
