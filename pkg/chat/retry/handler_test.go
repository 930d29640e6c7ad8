// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retry

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/wire"
)

func TestHandler_ResetsBeforeReporting(t *testing.T) {
	var order []string
	buffer := "stale fragment"

	h := NewHandler(
		func() {
			order = append(order, "reset")
			buffer = ""
		},
		func(s Status) {
			order = append(order, "report")
			if buffer != "" {
				t.Errorf("report saw content from the discarded attempt: %q", buffer)
			}
		},
	)

	got := h.Handle(wire.Retry{Attempt: 2, MaxAttempts: 3, ErrorType: "overloaded", Delay: 0.25})

	if len(order) != 2 || order[0] != "reset" || order[1] != "report" {
		t.Fatalf("order = %v, want [reset report]", order)
	}
	if got.Attempt != 2 || got.MaxAttempts != 3 || got.ErrorType != "overloaded" {
		t.Errorf("status = %+v", got)
	}
	if got.Delay != 250*time.Millisecond {
		t.Errorf("Delay = %v, want 250ms", got.Delay)
	}
}

func TestHandler_NilCallbacks(t *testing.T) {
	h := NewHandler(nil, nil)
	s := h.Handle(wire.Retry{Attempt: 1, MaxAttempts: 1})
	if s.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", s.Attempt)
	}
}

func TestHandler_Stateless(t *testing.T) {
	var reports []Status
	h := NewHandler(func() {}, func(s Status) { reports = append(reports, s) })

	h.Handle(wire.Retry{Attempt: 1, MaxAttempts: 3})
	h.Handle(wire.Retry{Attempt: 2, MaxAttempts: 3})

	if len(reports) != 2 || reports[0].Attempt != 1 || reports[1].Attempt != 2 {
		t.Errorf("reports = %+v", reports)
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Status{Attempt: 1, MaxAttempts: 3}, "retrying, attempt 1 of 3"},
		{Status{Attempt: 3, MaxAttempts: 3}, "retrying, attempt 3 of 3"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
