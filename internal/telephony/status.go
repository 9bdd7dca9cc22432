package telephony

import (
	"strings"

	"voice-crm/internal/calls"
)

var providerStatuses = map[string]calls.CallStatus{
	"scheduled":         calls.CallStatusQueued,
	"queued":            calls.CallStatusQueued,
	"initiated":         calls.CallStatusRinging,
	"ringing":           calls.CallStatusRinging,
	"in-progress":       calls.CallStatusInProgress,
	"in_progress":       calls.CallStatusInProgress,
	"call-disconnected": calls.CallStatusCompleted,
	"completed":         calls.CallStatusCompleted,
	"busy":              calls.CallStatusBusy,
	"no-answer":         calls.CallStatusNoAnswer,
	"no_answer":         calls.CallStatusNoAnswer,
	"failed":            calls.CallStatusFailed,
	"error":             calls.CallStatusFailed,
	"balance-low":       calls.CallStatusFailed,
	"canceled":          calls.CallStatusCancelled,
	"cancelled":         calls.CallStatusCancelled,
	"stopped":           calls.CallStatusCancelled,
}

// MapStatus translates the provider's status vocabulary. Anything unrecognised
// is treated as completed.
func MapStatus(s string) calls.CallStatus {
	if st, ok := providerStatuses[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return calls.CallStatusCompleted
}
