// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api reads authoritative conversation state from the backend.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// DefaultConversationPath is the GET endpoint for one conversation. %s is the
// escaped conversation uuid.
const DefaultConversationPath = "/api/conversations/%s"

// ErrEmptyConversationID is returned for a blank conversation id.
var ErrEmptyConversationID = errors.New("api: conversation id is empty")

// JSONGetter performs an authenticated JSON GET. *transport.Client satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, path string, out any) error
}

// ConversationDetail is a conversation with its full message log.
type ConversationDetail struct {
	Conversation datatypes.Conversation `json:"conversation"`
	Messages     []datatypes.Message    `json:"messages"`
}

// Client fetches conversations.
type Client struct {
	getter JSONGetter
	path   string
}

// NewClient creates a Client. An empty pathFormat uses
// DefaultConversationPath.
func NewClient(getter JSONGetter, pathFormat string) *Client {
	if pathFormat == "" {
		pathFormat = DefaultConversationPath
	}
	return &Client{getter: getter, path: pathFormat}
}

// GetConversation fetches the authoritative state of conversation id.
//
// # Outputs
//
//   - *ConversationDetail: Conversation and messages in server order.
//   - error: ErrEmptyConversationID, or the transport error unchanged so
//     callers can inspect *transport.HTTPError.
func (c *Client) GetConversation(ctx context.Context, id string) (*ConversationDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyConversationID
	}

	var detail ConversationDetail
	if err := c.getter.GetJSON(ctx, fmt.Sprintf(c.path, url.PathEscape(id)), &detail); err != nil {
		return nil, fmt.Errorf("api: get conversation %s: %w", id, err)
	}
	if detail.Conversation.UUID == "" {
		detail.Conversation.UUID = id
	}
	for i := range detail.Messages {
		if detail.Messages[i].ID.IsTemporary() {
			return nil, fmt.Errorf("api: get conversation %s: message %d has non-server id %q", id, i, detail.Messages[i].ID)
		}
	}
	return &detail, nil
}
