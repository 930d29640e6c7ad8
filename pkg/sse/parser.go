// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sse converts a Server-Sent Events byte stream into named frames.
//
// Single Responsibility:
//
//	The parser ONLY turns bytes into (event, payload) pairs. It knows nothing
//	about conversations, retries, or tool calls. Higher layers decode the
//	payloads into typed events.
//
// Wire Format:
//
//	event: content_delta\n
//	data: {"delta":"Hi"}\n
//	\n
//
// A frame is emitted when a data line follows an event line and its payload
// is valid JSON. Data lines without a preceding event line are dropped, and
// malformed payloads are dropped without clearing the pending event name.
//
// Chunk Boundaries:
//
//	Network chunks may split lines (and UTF-8 sequences) anywhere. The parser
//	keeps the trailing incomplete line in its buffer until the next chunk, so
//	a payload split into any number of chunks yields the same frames as the
//	payload fed in one piece.
package sse

import (
	"bytes"
	"encoding/json"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Frame is one decoded SSE event.
//
// Data holds the raw JSON payload. Frames are transient: they are produced by
// the parser, consumed immediately, and never persisted.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// Parser is a push-mode SSE frame parser.
//
// # Description
//
// Parser holds the state of exactly one in-progress parse: the line buffer
// and the pending event name. Feed it chunks in arrival order; it returns the
// frames completed by each chunk.
//
// # Thread Safety
//
// A Parser is owned by one stream and must not be shared. Independent parsers
// share no state and can run concurrently.
//
// # Examples
//
//	p := sse.NewParser()
//	frames := p.Feed([]byte("event: content_delta\ndata: {\"delta\":\"H"))
//	// len(frames) == 0, the data line is still incomplete
//	frames = p.Feed([]byte("i\"}\n\n"))
//	// frames[0].Event == "content_delta"
type Parser struct {
	buf     []byte
	event   string
	dropped int
}

// NewParser creates an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns the frames completed by it.
//
// The final segment after the last newline is retained for the next call
// rather than processed.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		if frame, ok := p.processLine(line); ok {
			frames = append(frames, frame)
		}
	}

	// Compact so a long-lived parser does not pin every chunk it has seen.
	if len(p.buf) == 0 {
		p.buf = nil
	} else if cap(p.buf) > 4*len(p.buf) && cap(p.buf) > 4096 {
		p.buf = append([]byte(nil), p.buf...)
	}

	return frames
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Dropped returns how many data lines were discarded, either because no event
// name preceded them or because their payload was not valid JSON.
func (p *Parser) Dropped() int {
	return p.dropped
}

// Reset discards the buffer and the pending event name.
func (p *Parser) Reset() {
	p.buf = nil
	p.event = ""
	p.dropped = 0
}

func (p *Parser) processLine(line []byte) (Frame, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})

	switch {
	case bytes.HasPrefix(line, []byte(eventPrefix)):
		p.event = string(bytes.TrimSpace(line[len(eventPrefix):]))
		return Frame{}, false

	case bytes.HasPrefix(line, []byte(dataPrefix)):
		if p.event == "" {
			p.dropped++
			return Frame{}, false
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if !json.Valid(payload) {
			// Noise; the pending event may still match a later data line.
			p.dropped++
			return Frame{}, false
		}
		frame := Frame{
			Event: p.event,
			Data:  append(json.RawMessage(nil), payload...),
		}
		p.event = ""
		return frame, true
	}

	// Blank separators, comments, id: and retry: fields carry nothing we use.
	return Frame{}, false
}
