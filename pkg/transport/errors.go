// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of a failed response is read for diagnostics.
const maxErrorBody = 64 << 10

// ErrMissingBody is returned when a successful response carries no readable
// body. It is distinct from a stream that was read and produced no frames.
var ErrMissingBody = errors.New("transport: response has no body")

// FaultError is a transport-level failure where no usable HTTP response was
// received: network errors, aborted requests, or a body read that broke
// mid-stream.
type FaultError struct {
	Op  string
	URL string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-2xx response.
//
// Message is the server-supplied message when the body decodes, otherwise the
// raw status text.
type HTTPError struct {
	StatusCode int
	Status     string
	Message    string
	ErrorType  string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("transport: server returned %d: %s", e.StatusCode, e.Message)
}

// Unauthorized reports whether the server rejected the credentials.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// errorBody covers the error shapes the backend and its proxies produce:
//
//	{"error": "msg", "error_type": "..."}
//	{"error": {"type": "...", "message": "..."}}
//	{"message": "msg"} / {"detail": "msg"}
type errorBody struct {
	Error     json.RawMessage `json:"error"`
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
	Detail    string          `json:"detail"`
}

type nestedError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// newHTTPError reads at most maxErrorBody bytes of resp and builds the error.
// A body that cannot be read or decoded falls back to the status text.
func newHTTPError(resp *http.Response, url string) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        url,
	}

	if resp.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err == nil {
			httpErr.Message, httpErr.ErrorType = decodeErrorBody(raw)
		}
	}

	if httpErr.Message == "" {
		httpErr.Message = statusText(resp)
	}
	return httpErr
}

func decodeErrorBody(raw []byte) (message, errorType string) {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", ""
	}
	errorType = body.ErrorType

	if len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			message = s
		} else {
			var nested nestedError
			if json.Unmarshal(body.Error, &nested) == nil {
				message = nested.Message
				if errorType == "" {
					errorType = nested.Type
				}
			}
		}
	}
	if message == "" {
		message = body.Message
	}
	if message == "" {
		message = body.Detail
	}
	return strings.TrimSpace(message), errorType
}

func statusText(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
