// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageID_Kinds(t *testing.T) {
	var zero MessageID
	assert.True(t, zero.IsZero())
	assert.False(t, zero.IsTemporary())

	tmp := NewTemporaryID()
	assert.True(t, tmp.IsTemporary())
	assert.True(t, strings.HasPrefix(tmp.String(), "tmp-"))
	_, ok := tmp.Int()
	assert.False(t, ok)

	srv := ServerID(42)
	n, ok := srv.Int()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, "42", srv.String())
	assert.NotEqual(t, tmp, NewTemporaryID(), "temporary ids must be unique")
	assert.Equal(t, ServerID(7), ServerID(7))
}

func TestMessageID_JSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MessageID
		wantErr bool
	}{
		{name: "number", input: `12`, want: ServerID(12)},
		{name: "numeric string", input: `"12"`, want: ServerID(12)},
		{name: "temporary token", input: `"tmp-abc"`, want: MessageID{temporary: "tmp-abc"}},
		{name: "null", input: `null`, want: MessageID{}},
		{name: "garbage string", input: `"hello"`, wantErr: true},
		{name: "float", input: `1.5`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got MessageID
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	out, err := json.Marshal(ServerID(5))
	require.NoError(t, err)
	assert.JSONEq(t, `5`, string(out))

	out, err = json.Marshal(MessageID{temporary: "tmp-x"})
	require.NoError(t, err)
	assert.JSONEq(t, `"tmp-x"`, string(out))
}

func TestMessage_CloneIsDeep(t *testing.T) {
	output := "ok"
	msg := Message{
		ID:      ServerID(1),
		Role:    RoleAssistant,
		Content: "hi",
		ToolCalls: []ToolCallRecord{
			{ToolCallID: "t1", ToolName: "search", Input: json.RawMessage(`{"q":1}`), Output: &output, Status: ToolStatusSuccess},
		},
		Usage: &Usage{InputTokens: 3},
	}

	clone := msg.Clone()
	*clone.ToolCalls[0].Output = "changed"
	clone.ToolCalls[0].Input[2] = 'x'
	clone.Usage.InputTokens = 99

	assert.Equal(t, "ok", *msg.ToolCalls[0].Output)
	assert.Equal(t, `{"q":1}`, string(msg.ToolCalls[0].Input))
	assert.Equal(t, 3, msg.Usage.InputTokens)
}

func TestToolStatus_IsTerminal(t *testing.T) {
	assert.False(t, ToolStatusPending.IsTerminal())
	assert.True(t, ToolStatusSuccess.IsTerminal())
	assert.True(t, ToolStatusError.IsTerminal())
}
