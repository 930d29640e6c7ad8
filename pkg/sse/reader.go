// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 4096

// ErrStop may be returned by a FrameHandler to end parsing early without
// reporting an error to the caller.
var ErrStop = errors.New("sse: stop")

// FrameHandler is invoked for each frame, in stream order. Returning a
// non-nil error stops parsing; the error is returned from Parse unchanged
// unless it is ErrStop.
type FrameHandler func(Frame) error

// FailureHandler is invoked once when the underlying source faults, before
// the fault is returned to the caller.
type FailureHandler func(error)

// Option configures a parse.
type Option func(*options)

type options struct {
	chunkSize int
	onFailure FailureHandler
	logger    *slog.Logger
}

// WithChunkSize sets the maximum number of bytes requested per read.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithFailureHandler registers a callback for source faults.
func WithFailureHandler(fn FailureHandler) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parse reads r chunk by chunk and invokes onFrame for every complete frame.
//
// # Description
//
// Parse owns a fresh Parser for the lifetime of the call, so concurrent calls
// over different readers are independent. There is no seek or rewind: to parse
// again, call Parse with a new reader.
//
// # Inputs
//
//   - ctx: Checked between chunks. Cancellation is reported as a source fault.
//   - r: The byte stream. The caller owns closing it.
//   - onFrame: Invoked for each frame in stream order.
//   - opts: Chunk size, failure callback, logger.
//
// # Outputs
//
//   - error: nil when the stream ends cleanly (including an empty stream),
//     the handler's error when onFrame fails, or the wrapped source fault.
//
// # Limitations
//
//   - A trailing line without a newline at EOF is discarded, not emitted.
//   - On a source fault, buffered partial content is discarded.
func Parse(ctx context.Context, r io.Reader, onFrame FrameHandler, opts ...Option) error {
	o := buildOptions(opts)
	parser := NewParser()
	chunk := make([]byte, o.chunkSize)

	fail := func(err error) error {
		if o.onFailure != nil {
			o.onFailure(err)
		}
		o.logger.Debug("sse stream faulted",
			"error", err,
			"pending_bytes", parser.Pending(),
		)
		return fmt.Errorf("sse: read stream: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, readErr := r.Read(chunk)
		if n > 0 {
			for _, frame := range parser.Feed(chunk[:n]) {
				if err := onFrame(frame); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return err
				}
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if parser.Pending() > 0 {
				o.logger.Debug("sse stream ended with unterminated line",
					"pending_bytes", parser.Pending(),
				)
			}
			if parser.Dropped() > 0 {
				o.logger.Debug("sse stream dropped data lines",
					"dropped", parser.Dropped(),
				)
			}
			return nil
		}
		return fail(readErr)
	}
}

// Frames exposes Parse as a lazy, finite sequence.
//
// Each element is a frame with a nil error, except possibly the last, which
// carries the fault that ended the stream. Breaking out of the range loop
// stops reading.
//
// # Examples
//
//	for frame, err := range sse.Frames(ctx, body) {
//	    if err != nil {
//	        return err
//	    }
//	    handle(frame)
//	}
func Frames(ctx context.Context, r io.Reader, opts ...Option) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		err := Parse(ctx, r, func(f Frame) error {
			if !yield(f, nil) {
				return ErrStop
			}
			return nil
		}, opts...)
		if err != nil {
			yield(Frame{}, err)
		}
	}
}
