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
	"time"

	"github.com/AleutianAI/AleutianChatSync/pkg/chat/datatypes"
)

// OutcomeSuccess is the outcome label of a completed turn. Failed turns use
// their Kind.
const OutcomeSuccess = "success"

// Metrics records turn telemetry. Implementations must be safe for
// concurrent use.
type Metrics interface {
	TurnStarted()
	TurnFinished(outcome string, elapsed time.Duration)
	FirstDelta(elapsed time.Duration)
	RetrySignalled(errorType string)
	ToolCallFinished(status datatypes.ToolStatus)
	ReloadFinished(err error)
}

type nopMetrics struct{}

func (nopMetrics) TurnStarted() {}
func (nopMetrics) TurnFinished(string, time.Duration) {}
func (nopMetrics) FirstDelta(time.Duration) {}
func (nopMetrics) RetrySignalled(string) {}
func (nopMetrics) ToolCallFinished(datatypes.ToolStatus) {}
func (nopMetrics) ReloadFinished(error) {}
