package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/calls"
	"voice-crm/internal/crm"
	"voice-crm/internal/telephony"
)

type fakeCallCenter struct {
	createErr   error
	scheduleErr error
	stopErr     error

	created   []telephony.CreateBatchRequest
	scheduled []telephony.ScheduleBatchRequest
	stopped   []telephony.StopBatchRequest
}

func (f *fakeCallCenter) CreateBatch(ctx context.Context, req telephony.CreateBatchRequest) (telephony.CreateBatchResult, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return telephony.CreateBatchResult{}, f.createErr
	}
	return telephony.CreateBatchResult{BatchID: "batch-1"}, nil
}

func (f *fakeCallCenter) ScheduleBatch(ctx context.Context, req telephony.ScheduleBatchRequest) error {
	f.scheduled = append(f.scheduled, req)
	return f.scheduleErr
}

func (f *fakeCallCenter) StopBatch(ctx context.Context, req telephony.StopBatchRequest) error {
	f.stopped = append(f.stopped, req)
	return f.stopErr
}

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	calls  *calls.MemoryRepo
	crm    *crm.MemoryRepo
	cc     *fakeCallCenter
	audits *audit.MemoryRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	callRepo := calls.NewMemoryRepo()
	callRepo.Now = func() time.Time { return t0 }
	callRepo.PutCampaign(calls.Campaign{ID: "camp-1", OrganizationID: "org-1", Status: calls.CampaignStatusDraft})
	callRepo.PutCall(calls.CallRecord{ID: "call-1", CampaignID: "camp-1", ContactName: "Asha", ContactPhone: "98765 43210", Status: calls.CallStatusPending})
	callRepo.PutCall(calls.CallRecord{ID: "call-2", CampaignID: "camp-1", ContactName: "Ravi", ContactPhone: "+919812345678", Status: calls.CallStatusPending})
	callRepo.PutCall(calls.CallRecord{ID: "call-3", CampaignID: "camp-1", ContactName: "Done", ContactPhone: "+919800000000", Status: calls.CallStatusCompleted})

	crmRepo := crm.NewMemoryRepo()
	crmRepo.Settings["org-1"] = crm.OrgSettings{OrganizationID: "org-1", CallCenterAPIKey: "key", CallCenterAgentID: "agent"}

	cc := &fakeCallCenter{}
	audits := audit.NewMemoryRepo()
	svc := NewService(callRepo, crmRepo, cc, audit.NewService(audits), "IN")
	svc.clock = func() time.Time { return t0 }
	return fixture{svc: svc, calls: callRepo, crm: crmRepo, cc: cc, audits: audits}
}

func TestStart_SubmitsManifestAndQueuesCalls(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Start(context.Background(), StartRequest{
		OrganizationID: "org-1",
		CampaignID:     "camp-1",
		WorkshopTime:   "7 PM",
		Actor:          audit.Actor{UserID: "u1", Role: "admin"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.BatchID != "batch-1" || res.Queued != 2 || !res.Scheduled || !res.ScheduledAt.Equal(t0) {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(f.cc.created) != 1 {
		t.Fatalf("expected one batch")
	}
	req := f.cc.created[0]
	if req.APIKey != "key" || req.AgentID != "agent" || len(req.Rows) != 2 {
		t.Fatalf("unexpected batch request: %+v", req)
	}
	for _, row := range req.Rows {
		if row.ContactNumber[0] != '+' || row.WorkshopTime != "7 PM" || row.CallRecordID == "" {
			t.Fatalf("unexpected manifest row: %+v", row)
		}
	}

	c, _ := f.calls.GetCampaign(context.Background(), "camp-1")
	if c.Status != calls.CampaignStatusRunning || c.BatchID != "batch-1" || c.StartedAt == nil {
		t.Fatalf("unexpected campaign: %+v", c)
	}
	queued, _ := f.calls.ListCallsByStatus(context.Background(), "camp-1", calls.CallStatusQueued)
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued calls, got %d", len(queued))
	}

	evs := f.audits.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeCampaignStarted || evs[0].ActorUserID != "u1" {
		t.Fatalf("expected campaign_started audit, got %+v", evs)
	}
}

func TestStart_HonoursFutureSchedule(t *testing.T) {
	f := newFixture(t)
	later := t0.Add(2 * time.Hour)

	res, err := f.svc.Start(context.Background(), StartRequest{OrganizationID: "org-1", CampaignID: "camp-1", ScheduledAt: &later})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !f.cc.scheduled[0].ScheduledAt.Equal(later) || !res.ScheduledAt.Equal(later) {
		t.Fatalf("expected schedule at %s, got %s", later, f.cc.scheduled[0].ScheduledAt)
	}
}

func TestStart_CreateFailureMarksCampaignFailed(t *testing.T) {
	f := newFixture(t)
	f.cc.createErr = fmt.Errorf("%w: 500", telephony.ErrUpstream)

	_, err := f.svc.Start(context.Background(), StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"})
	if !errors.Is(err, telephony.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	c, _ := f.calls.GetCampaign(context.Background(), "camp-1")
	if c.Status != calls.CampaignStatusFailed || c.BatchID != "" {
		t.Fatalf("expected failed campaign without batch, got %+v", c)
	}
	pending, _ := f.calls.ListCallsByStatus(context.Background(), "camp-1", calls.CallStatusPending)
	if len(pending) != 2 {
		t.Fatalf("calls must stay pending, got %d", len(pending))
	}
}

func TestStart_ScheduleFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.cc.scheduleErr = errors.New("timeout")

	res, err := f.svc.Start(context.Background(), StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Scheduled {
		t.Fatalf("expected scheduled=false")
	}
	c, _ := f.calls.GetCampaign(context.Background(), "camp-1")
	if c.Status != calls.CampaignStatusRunning {
		t.Fatalf("expected running, got %s", c.Status)
	}
}

func TestStart_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-2", CampaignID: "camp-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other organization: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-1", CampaignID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing campaign: expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	f.crm.Settings["org-1"] = crm.OrgSettings{OrganizationID: "org-1", CallCenterAPIKey: "key"}
	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	delete(f.crm.Settings, "org-1")
	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without settings, got %v", err)
	}
	if len(f.cc.created) != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestStart_NoPendingCalls(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Start(context.Background(), StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := f.svc.Start(context.Background(), StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"}); !errors.Is(err, ErrNoPendingCalls) {
		t.Fatalf("expected ErrNoPendingCalls, got %v", err)
	}
}

func TestStop_CancelsOutstandingCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Start(ctx, StartRequest{OrganizationID: "org-1", CampaignID: "camp-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.cc.stopErr = errors.New("provider down")

	res, err := f.svc.Stop(ctx, StopRequest{OrganizationID: "org-1", CampaignID: "camp-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Cancelled != 2 || res.ProviderStopped {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(f.cc.stopped) != 1 || f.cc.stopped[0].BatchID != "batch-1" {
		t.Fatalf("expected stop request for batch-1")
	}
	c, _ := f.calls.GetCampaign(ctx, "camp-1")
	if c.Status != calls.CampaignStatusPaused {
		t.Fatalf("expected paused, got %s", c.Status)
	}
	done, _ := f.calls.GetCall(ctx, "call-3")
	if done.Status != calls.CallStatusCompleted {
		t.Fatalf("terminal calls must not be cancelled")
	}
}

func TestStop_WithoutBatchSkipsProvider(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Stop(context.Background(), StopRequest{OrganizationID: "org-1", CampaignID: "camp-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.cc.stopped) != 0 || res.Cancelled != 2 {
		t.Fatalf("unexpected stop: %+v", res)
	}
}
