// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianChatSync/pkg/sse"
)

// ErrUnknownKind is returned by Decode for an event name outside Kinds.
var ErrUnknownKind = errors.New("wire: unknown event kind")

// DecodeError reports a payload that is valid JSON but does not fit the
// event's shape.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode converts a frame into its typed event.
//
// # Outputs
//
//   - Event: The typed event on success.
//   - error: ErrUnknownKind (wrapped) for an unrecognised event name, or a
//     *DecodeError when the payload does not match the kind.
func Decode(f sse.Frame) (Event, error) {
	kind := Kind(f.Event)
	switch kind {
	case KindConversationCreated:
		return decodeAs[ConversationCreated](kind, f)
	case KindMessageStart:
		return decodeAs[MessageStart](kind, f)
	case KindToolCallStart:
		return decodeAs[ToolCallStart](kind, f)
	case KindToolCallEnd:
		return decodeAs[ToolCallEnd](kind, f)
	case KindContentDelta:
		return decodeAs[ContentDelta](kind, f)
	case KindMessageEnd:
		return decodeAs[MessageEnd](kind, f)
	case KindRetry:
		return decodeAs[Retry](kind, f)
	case KindError:
		return decodeAs[StreamError](kind, f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Event)
	}
}

func decodeAs[T Event](kind Kind, f sse.Frame) (Event, error) {
	var ev T
	if err := f.Decode(&ev); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	return ev, nil
}
