// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools tracks tool invocations announced during one streamed turn.
package tools

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// Tracker is the per-turn ledger of tool calls.
//
// # Description
//
// Start appends a pending record, Complete moves it to success or error
// exactly once. Caller contract violations (duplicate start, completing an
// unknown or finished id) are logged and ignored so a misbehaving stream
// cannot crash the session.
//
// # Thread Safety
//
// Tracker is safe for concurrent use, although a turn drives it from a
// single goroutine. The change callback runs with no lock held.
type Tracker struct {
	mu       sync.Mutex
	records  []datatypes.ToolCallRecord
	index    map[string]int
	onChange func([]datatypes.ToolCallRecord)
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithChangeHandler registers a callback that receives a snapshot after every
// mutation.
func WithChangeHandler(fn func([]datatypes.ToolCallRecord)) Option {
	return func(t *Tracker) {
		t.onChange = fn
	}
}

// WithLogger sets the logger for contract-violation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		index:  make(map[string]int),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start appends a pending record for id.
//
// It reports false when id is already tracked; the existing record is kept.
func (t *Tracker) Start(id, name string, input json.RawMessage) bool {
	t.mu.Lock()
	if _, exists := t.index[id]; exists {
		t.mu.Unlock()
		t.logger.Warn("tool call started twice, ignoring",
			"tool_call_id", id,
			"tool_name", name,
		)
		return false
	}

	rec := datatypes.ToolCallRecord{
		ToolCallID: id,
		ToolName:   name,
		Status:     datatypes.ToolStatusPending,
	}
	if len(input) > 0 {
		rec.Input = append(json.RawMessage(nil), input...)
	}
	t.index[id] = len(t.records)
	t.records = append(t.records, rec)
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return true
}

// Complete finishes the record for id.
//
// # Inputs
//
//   - id: The tool call to finish.
//   - output: Tool output, may be nil.
//   - errMsg: Failure message. A non-nil, non-empty value marks the call as
//     error; anything else marks it success.
//
// # Outputs
//
//   - bool: false when id is unknown or already finished. Nothing changes.
func (t *Tracker) Complete(id string, output, errMsg *string) bool {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("tool call completed without start, ignoring", "tool_call_id", id)
		return false
	}
	rec := &t.records[i]
	if rec.Status.IsTerminal() {
		t.mu.Unlock()
		t.logger.Warn("tool call completed twice, ignoring",
			"tool_call_id", id,
			"status", rec.Status,
		)
		return false
	}

	if output != nil {
		out := *output
		rec.Output = &out
	}
	if errMsg != nil && *errMsg != "" {
		msg := *errMsg
		rec.Error = &msg
		rec.Status = datatypes.ToolStatusError
	} else {
		rec.Status = datatypes.ToolStatusSuccess
	}
	snap := t.snapshotLocked()
	t.mu.Unlock()

	t.notify(snap)
	return true
}

// Snapshot returns a deep copy of the records in start order.
func (t *Tracker) Snapshot() []datatypes.ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of tracked calls.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Reset empties the ledger.
func (t *Tracker) Reset() {
	t.mu.Lock()
	had := len(t.records) > 0
	t.records = nil
	clear(t.index)
	t.mu.Unlock()

	if had {
		t.notify(nil)
	}
}

func (t *Tracker) snapshotLocked() []datatypes.ToolCallRecord {
	if len(t.records) == 0 {
		return nil
	}
	out := make([]datatypes.ToolCallRecord, len(t.records))
	for i, r := range t.records {
		out[i] = r.Clone()
	}
	return out
}

func (t *Tracker) notify(snap []datatypes.ToolCallRecord) {
	if t.onChange != nil {
		t.onChange(snap)
	}
}
