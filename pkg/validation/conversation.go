// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-typed identifiers before they reach a URL.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyConversationID is returned for a blank id.
var ErrEmptyConversationID = errors.New("conversation id cannot be empty")

// ConversationID validates and normalizes a conversation uuid.
//
// # Description
//
// Surrounding whitespace is trimmed and the canonical lowercase hyphenated
// form is returned, so "{A1B2...}" and "urn:uuid:a1b2..." both work.
//
// # Examples
//
//	id, err := validation.ConversationID(arg)
//	if err != nil {
//	    return fmt.Errorf("load: %w", err)
//	}
func ConversationID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyConversationID
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid conversation id %q: %w", id, err)
	}
	return parsed.String(), nil
}
