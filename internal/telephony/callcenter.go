package telephony

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voice-crm/internal/resilient"
)

const (
	createBatchTimeout = 15 * time.Second
	batchCallTimeout   = 10 * time.Second
)

var manifestHeader = []string{"contact_number", "name", "workshop_time", "call_record_id"}

// HTTPCallCenter talks to the call-center batch API.
type HTTPCallCenter struct {
	caller  resilient.Caller
	baseURL string
}

func NewHTTPCallCenter(caller resilient.Caller, baseURL string) *HTTPCallCenter {
	return &HTTPCallCenter{caller: caller, baseURL: strings.TrimRight(baseURL, "/")}
}

var _ CallCenter = (*HTTPCallCenter)(nil)

// CreateBatch uploads the manifest as a CSV file. Batch creation is not
// idempotent, so it only ever retries on a peer reset.
func (p *HTTPCallCenter) CreateBatch(ctx context.Context, req CreateBatchRequest) (CreateBatchResult, error) {
	if len(req.Rows) == 0 {
		return CreateBatchResult{}, errors.New("telephony: empty manifest")
	}
	manifest, err := EncodeManifest(req.Rows)
	if err != nil {
		return CreateBatchResult{}, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("agent_id", req.AgentID); err != nil {
		return CreateBatchResult{}, err
	}
	if req.FromNumber != "" {
		if err := mw.WriteField("from_phone_numbers", req.FromNumber); err != nil {
			return CreateBatchResult{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", "batch.csv")
	if err != nil {
		return CreateBatchResult{}, err
	}
	if _, err := fw.Write(manifest); err != nil {
		return CreateBatchResult{}, err
	}
	if err := mw.Close(); err != nil {
		return CreateBatchResult{}, err
	}

	h := p.authHeader(req.Credentials)
	h.Set("Content-Type", mw.FormDataContentType())
	resp, err := p.caller.CallWithConnectionResetRetry(ctx, resilient.Request{
		Method: http.MethodPost,
		URL:    p.baseURL + "/batches",
		Header: h,
		Body:   body.Bytes(),
	}, createBatchTimeout)
	if err != nil {
		return CreateBatchResult{}, fmt.Errorf("%w: create batch: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return CreateBatchResult{}, fmt.Errorf("%w: create batch: %w", ErrUpstream, err)
	}

	var out CreateBatchResult
	if err := resp.DecodeJSON(&out); err != nil {
		return CreateBatchResult{}, fmt.Errorf("%w: create batch: %w", ErrUpstream, err)
	}
	if out.BatchID == "" {
		return CreateBatchResult{}, fmt.Errorf("%w: create batch: response has no batch_id", ErrUpstream)
	}
	return out, nil
}

func (p *HTTPCallCenter) ScheduleBatch(ctx context.Context, req ScheduleBatchRequest) error {
	r, err := resilient.JSONRequest(http.MethodPost, p.batchURL(req.BatchID, "schedule"), map[string]string{
		"scheduled_at": req.ScheduledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	for k, v := range p.authHeader(req.Credentials) {
		r.Header[k] = v
	}
	resp, err := p.caller.CallWithRetry(ctx, r, resilient.RetryOptions{
		MaxRetries: resilient.DefaultMaxRetries,
		Timeout:    batchCallTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: schedule batch: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("%w: schedule batch: %w", ErrUpstream, err)
	}
	return nil
}

func (p *HTTPCallCenter) StopBatch(ctx context.Context, req StopBatchRequest) error {
	resp, err := p.caller.CallWithTimeout(ctx, resilient.Request{
		Method: http.MethodPost,
		URL:    p.batchURL(req.BatchID, "stop"),
		Header: p.authHeader(req.Credentials),
	}, batchCallTimeout)
	if err != nil {
		return fmt.Errorf("%w: stop batch: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("%w: stop batch: %w", ErrUpstream, err)
	}
	return nil
}

func (p *HTTPCallCenter) batchURL(batchID, action string) string {
	return p.baseURL + "/batches/" + url.PathEscape(batchID) + "/" + action
}

func (p *HTTPCallCenter) authHeader(c Credentials) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.APIKey)
	h.Set("Accept", "application/json")
	return h
}

// EncodeManifest renders rows as CSV with a header line.
func EncodeManifest(rows []ManifestRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(manifestHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write([]string{r.ContactNumber, r.Name, r.WorkshopTime, r.CallRecordID}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("telephony: encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
