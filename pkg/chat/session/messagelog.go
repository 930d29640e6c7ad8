// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// messageLog is an ordered message arena with an id index.
//
// Each message lives in a slot. Reconciling a temporary id rewrites the
// index key and the slot's ID; the slot itself never moves. Not safe for
// concurrent use; the controller guards it.
type messageLog struct {
	slots []datatypes.Message
	index map[datatypes.MessageID]int
}

func newMessageLog() *messageLog {
	return &messageLog{index: make(map[datatypes.MessageID]int)}
}

func (l *messageLog) append(m datatypes.Message) error {
	if _, exists := l.position(m.ID); exists {
		return fmt.Errorf("message %s already in log", m.ID)
	}
	l.index[m.ID] = len(l.slots)
	l.slots = append(l.slots, m)
	return nil
}

// swapID replaces old with next in place.
func (l *messageLog) swapID(old, next datatypes.MessageID) error {
	slot, ok := l.position(old)
	if !ok {
		return fmt.Errorf("message %s not in log", old)
	}
	if old == next {
		return nil
	}
	if _, taken := l.position(next); taken {
		return fmt.Errorf("message %s already in log", next)
	}
	delete(l.index, old)
	l.index[next] = slot
	l.slots[slot].ID = next
	return nil
}

func (l *messageLog) remove(id datatypes.MessageID) bool {
	slot, ok := l.position(id)
	if !ok {
		return false
	}
	delete(l.index, id)
	l.slots = append(l.slots[:slot], l.slots[slot+1:]...)
	for i := slot; i < len(l.slots); i++ {
		l.index[l.slots[i].ID] = i
	}
	return true
}

// position returns the slot holding id.
func (l *messageLog) position(id datatypes.MessageID) (int, bool) {
	slot, ok := l.index[id]
	return slot, ok
}

// replace discards the log and adopts msgs. Messages with duplicate ids keep
// the first occurrence.
func (l *messageLog) replace(msgs []datatypes.Message) {
	l.slots = make([]datatypes.Message, 0, len(msgs))
	l.index = make(map[datatypes.MessageID]int, len(msgs))
	for _, m := range msgs {
		_ = l.append(m.Clone())
	}
}

func (l *messageLog) reset() {
	l.slots = nil
	clear(l.index)
}

func (l *messageLog) messages() []datatypes.Message {
	if len(l.slots) == 0 {
		return nil
	}
	out := make([]datatypes.Message, len(l.slots))
	for i, m := range l.slots {
		out[i] = m.Clone()
	}
	return out
}
