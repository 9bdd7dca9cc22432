package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUpstream wraps any non-2xx, timeout or transport failure from the call center.
	ErrUpstream = errors.New("telephony: call center request failed")

	ErrInvalidEvent = errors.New("telephony: invalid webhook event")
	ErrUnknownTool  = errors.New("telephony: unknown tool")
	ErrUnknownCall  = errors.New("telephony: call record not found")
)

// CallCenter is the outbound batch-calling provider.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Requests carry the organization's own credentials; adapters hold none.
type CallCenter interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest) (CreateBatchResult, error)
	ScheduleBatch(ctx context.Context, req ScheduleBatchRequest) error
	StopBatch(ctx context.Context, req StopBatchRequest) error
}

// Credentials are the organization-scoped call-center settings.
type Credentials struct {
	APIKey  string
	AgentID string
	// FromNumber is optional; the provider picks one from the agent's pool when empty.
	FromNumber string
}

// ManifestRow is one line of the batch manifest. CallRecordID is echoed back by
// the provider as call_id on tool invocations.
type ManifestRow struct {
	ContactNumber string
	Name          string
	WorkshopTime  string
	CallRecordID  string
}

type CreateBatchRequest struct {
	Credentials
	Rows []ManifestRow
}

type CreateBatchResult struct {
	BatchID string `json:"batch_id"`
	State   string `json:"state,omitempty"`
}

type ScheduleBatchRequest struct {
	Credentials
	BatchID     string
	ScheduledAt time.Time
}

type StopBatchRequest struct {
	Credentials
	BatchID string
}
