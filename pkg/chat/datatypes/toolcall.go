// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "encoding/json"

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolStatusPending ToolStatus = "pending"
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s ToolStatus) IsTerminal() bool {
	return s == ToolStatusSuccess || s == ToolStatusError
}

// ToolCallRecord is one tool invocation surfaced during a streamed turn.
//
// A record starts pending and moves exactly once to success or error.
type ToolCallRecord struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     *string         `json:"output,omitempty"`
	Error      *string         `json:"error,omitempty"`
	Status     ToolStatus      `json:"status"`
}

// Clone returns a deep copy of the record.
func (r ToolCallRecord) Clone() ToolCallRecord {
	out := r
	if r.Input != nil {
		out.Input = append(json.RawMessage(nil), r.Input...)
	}
	if r.Output != nil {
		s := *r.Output
		out.Output = &s
	}
	if r.Error != nil {
		s := *r.Error
		out.Error = &s
	}
	return out
}
