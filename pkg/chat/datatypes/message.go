// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the conversation data model shared by the
// streaming transport, the wire decoder, and the session controller.
//
// # Identity
//
// Messages are identified by MessageID, which holds either a server-assigned
// integer or a locally generated temporary token. A message inserted before
// the server confirms it carries a temporary token; once the server reports
// the real identifier the token is swapped in place.
package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// temporaryPrefix marks locally generated message identifiers.
const temporaryPrefix = "tmp-"

// =============================================================================
// Message Identity
// =============================================================================

// MessageID identifies a message in the conversation log.
//
// # Description
//
// A MessageID is either a server-assigned integer or a temporary token used
// only for list identity until the server confirms the message. The zero
// value is the "no id" value and is never assigned to a logged message.
//
// MessageID is comparable and can be used as a map key.
//
// # Examples
//
//	id := datatypes.NewTemporaryID()
//	id.IsTemporary() // true
//
//	id = datatypes.ServerID(42)
//	n, ok := id.Int() // 42, true
type MessageID struct {
	server    int64
	temporary string
}

// ServerID returns a MessageID holding a server-assigned identifier.
func ServerID(n int64) MessageID {
	return MessageID{server: n}
}

// NewTemporaryID returns a fresh temporary identifier.
func NewTemporaryID() MessageID {
	return MessageID{temporary: temporaryPrefix + uuid.NewString()}
}

// IsZero reports whether the id is unset.
func (id MessageID) IsZero() bool {
	return id.server == 0 && id.temporary == ""
}

// IsTemporary reports whether the id is a local token awaiting reconciliation.
func (id MessageID) IsTemporary() bool {
	return id.temporary != ""
}

// Int returns the server identifier, if the id holds one.
func (id MessageID) Int() (int64, bool) {
	if id.temporary != "" || id.server == 0 {
		return 0, false
	}
	return id.server, true
}

// String renders the id for logs and list keys.
func (id MessageID) String() string {
	if id.temporary != "" {
		return id.temporary
	}
	return strconv.FormatInt(id.server, 10)
}

// MarshalJSON encodes server ids as numbers and temporary ids as strings.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if id.temporary != "" {
		return json.Marshal(id.temporary)
	}
	return []byte(strconv.FormatInt(id.server, 10)), nil
}

// UnmarshalJSON accepts a JSON number (server id) or a string. Strings that
// parse as integers are treated as server ids.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = MessageID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*id = ServerID(n)
			return nil
		}
		if !strings.HasPrefix(s, temporaryPrefix) {
			return fmt.Errorf("message id %q is neither an integer nor a temporary token", s)
		}
		*id = MessageID{temporary: s}
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = ServerID(n)
	return nil
}

// =============================================================================
// Messages
// =============================================================================

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage carries the accounting fields reported with a completed assistant
// message. All fields are optional on the wire.
type Usage struct {
	InputTokens    int     `json:"input_tokens,omitempty"`
	OutputTokens   int     `json:"output_tokens,omitempty"`
	Model          string  `json:"model,omitempty"`
	ResponseTimeMs int     `json:"response_time_ms,omitempty"`
	CostUSD        float64 `json:"cost_usd,omitempty"`
}

// Message is one entry of the conversation log.
type Message struct {
	ID        MessageID        `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage     *Usage           `json:"usage,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallRecord, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return out
}

// Conversation is the server-side container for a message log.
type Conversation struct {
	UUID      string    `json:"uuid"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
