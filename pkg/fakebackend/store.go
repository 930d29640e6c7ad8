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
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/api"
	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// ErrNotFound is returned for an unknown conversation uuid.
var ErrNotFound = errors.New("fakebackend: conversation not found")

const maxTitleRunes = 48

type conversationRecord struct {
	conversation datatypes.Conversation
	messages     []datatypes.Message
}

// Store is an in-memory conversation store. Message ids are global and
// increase monotonically, like database serials.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	convs  map[string]*conversationRecord
	nextID int64
	now    func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		convs: make(map[string]*conversationRecord),
		now:   time.Now,
	}
}

// Create opens a conversation titled after its first message.
func (s *Store) Create(firstMessage string) datatypes.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	conv := datatypes.Conversation{
		UUID:      uuid.NewString(),
		Title:     titleFor(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.convs[conv.UUID] = &conversationRecord{conversation: conv}
	return conv
}

// Append adds msg to conversation id with a fresh server id and returns the
// stored copy.
func (s *Store) Append(id string, msg datatypes.Message) (datatypes.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.convs[id]
	if !ok {
		return datatypes.Message{}, ErrNotFound
	}
	s.nextID++
	msg.ID = datatypes.ServerID(s.nextID)
	msg.CreatedAt = s.now().UTC()
	rec.messages = append(rec.messages, msg.Clone())
	rec.conversation.UpdatedAt = msg.CreatedAt
	return msg, nil
}

// Get returns a deep copy of conversation id.
func (s *Store) Get(id string) (*api.ConversationDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := &api.ConversationDetail{
		Conversation: rec.conversation,
		Messages:     make([]datatypes.Message, len(rec.messages)),
	}
	for i, m := range rec.messages {
		out.Messages[i] = m.Clone()
	}
	return out, nil
}

// Len reports the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

func titleFor(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	r := []rune(content)
	return string(r[:maxTitleRunes]) + "…"
}
