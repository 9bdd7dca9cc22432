// Package dispatch submits campaigns to the call-center provider and stops them.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/calls"
	"voice-crm/internal/crm"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/logger"
	"voice-crm/pkg/phone"
)

var (
	ErrInvalidArgument = errors.New("dispatch: invalid argument")
	ErrNotFound        = errors.New("dispatch: campaign not found")
	ErrNotConfigured   = errors.New("dispatch: call center not configured for organization")
	ErrNoPendingCalls  = errors.New("dispatch: no pending calls")
)

// CampaignStore is the slice of calls.PostgresRepo the dispatcher needs.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (calls.Campaign, error)
	ListCallsByStatus(ctx context.Context, campaignID string, statuses ...calls.CallStatus) ([]calls.CallRecord, error)
	SetCampaignStatus(ctx context.Context, campaignID string, status calls.CampaignStatus) error
	MarkCampaignRunning(ctx context.Context, campaignID, batchID string, startedAt time.Time, scheduledAt *time.Time) (int, error)
	PauseCampaign(ctx context.Context, campaignID string) (int, error)
}

type SettingsStore interface {
	GetOrgSettings(ctx context.Context, organizationID string) (crm.OrgSettings, error)
}

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	LogCampaign(ctx context.Context, typ audit.EventType, organizationID, campaignID string, actor audit.Actor, message string, metadata map[string]any) error
}

// Service runs the start and stop paths of a campaign.
//
// Invariants:
// - the batch is only recorded on the campaign after the provider accepted it.
// - a provider rejection of the manifest marks the campaign failed.
// - scheduling and stopping at the provider are best-effort.
type Service struct {
	store      CampaignStore
	settings   SettingsStore
	callCenter telephony.CallCenter
	audit      Auditor
	region     string
	clock      func() time.Time
}

func NewService(store CampaignStore, settings SettingsStore, callCenter telephony.CallCenter, auditor Auditor, region string) *Service {
	if region == "" {
		region = phone.DefaultRegion
	}
	return &Service{
		store:      store,
		settings:   settings,
		callCenter: callCenter,
		audit:      auditor,
		region:     region,
		clock:      time.Now,
	}
}

type StartRequest struct {
	OrganizationID string
	CampaignID     string
	// WorkshopTime is a free-text hint the voice agent reads out.
	WorkshopTime string
	// ScheduledAt defers execution; nil means now.
	ScheduledAt *time.Time
	Actor       audit.Actor
}

type StartResult struct {
	CampaignID  string    `json:"campaign_id"`
	BatchID     string    `json:"batch_id"`
	Queued      int       `json:"queued"`
	ScheduledAt time.Time `json:"scheduled_at"`
	// Scheduled is false when the provider did not acknowledge the schedule call.
	Scheduled bool `json:"scheduled"`
}

func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	log := logger.From(ctx).With("campaign_id", req.CampaignID)
	if req.OrganizationID == "" || req.CampaignID == "" {
		return StartResult{}, ErrInvalidArgument
	}

	campaign, err := s.loadCampaign(ctx, req.OrganizationID, req.CampaignID)
	if err != nil {
		return StartResult{}, err
	}
	creds, err := s.credentials(ctx, req.OrganizationID)
	if err != nil {
		return StartResult{}, err
	}

	pending, err := s.store.ListCallsByStatus(ctx, campaign.ID, calls.CallStatusPending)
	if err != nil {
		return StartResult{}, fmt.Errorf("list pending calls: %w", err)
	}
	if len(pending) == 0 {
		return StartResult{}, ErrNoPendingCalls
	}

	rows := make([]telephony.ManifestRow, 0, len(pending))
	for _, c := range pending {
		rows = append(rows, telephony.ManifestRow{
			ContactNumber: phone.NormalizeE164(c.ContactPhone, s.region),
			Name:          c.ContactName,
			WorkshopTime:  req.WorkshopTime,
			CallRecordID:  c.ID,
		})
	}

	batch, err := s.callCenter.CreateBatch(ctx, telephony.CreateBatchRequest{Credentials: creds, Rows: rows})
	if err != nil {
		if serr := s.store.SetCampaignStatus(ctx, campaign.ID, calls.CampaignStatusFailed); serr != nil {
			log.Error("mark campaign failed", "err", serr)
		}
		return StartResult{}, fmt.Errorf("create batch: %w", err)
	}
	log = log.With("batch_id", batch.BatchID)

	now := s.clock().UTC()
	runAt := now
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		runAt = req.ScheduledAt.UTC()
	}
	scheduled := true
	if err := s.callCenter.ScheduleBatch(ctx, telephony.ScheduleBatchRequest{Credentials: creds, BatchID: batch.BatchID, ScheduledAt: runAt}); err != nil {
		scheduled = false
		log.Warn("schedule batch failed; provider may still run it", "err", err)
	}

	queued, err := s.store.MarkCampaignRunning(ctx, campaign.ID, batch.BatchID, now, &runAt)
	if err != nil {
		return StartResult{}, fmt.Errorf("mark campaign running: %w", err)
	}
	log.Info("campaign started", "queued", queued, "scheduled_at", runAt)

	s.record(ctx, audit.EventTypeCampaignStarted, campaign, req.Actor, "campaign started", map[string]any{
		"batch_id":     batch.BatchID,
		"queued":       queued,
		"scheduled_at": runAt,
	})

	return StartResult{
		CampaignID:  campaign.ID,
		BatchID:     batch.BatchID,
		Queued:      queued,
		ScheduledAt: runAt,
		Scheduled:   scheduled,
	}, nil
}

type StopRequest struct {
	OrganizationID string
	CampaignID     string
	Actor          audit.Actor
}

type StopResult struct {
	CampaignID string `json:"campaign_id"`
	Cancelled  int    `json:"cancelled"`
	// ProviderStopped is false when there was no batch or the provider call failed.
	ProviderStopped bool `json:"provider_stopped"`
}

func (s *Service) Stop(ctx context.Context, req StopRequest) (StopResult, error) {
	log := logger.From(ctx).With("campaign_id", req.CampaignID)
	if req.OrganizationID == "" || req.CampaignID == "" {
		return StopResult{}, ErrInvalidArgument
	}

	campaign, err := s.loadCampaign(ctx, req.OrganizationID, req.CampaignID)
	if err != nil {
		return StopResult{}, err
	}

	stopped := false
	if campaign.BatchID != "" {
		creds, err := s.credentials(ctx, req.OrganizationID)
		if err == nil {
			err = s.callCenter.StopBatch(ctx, telephony.StopBatchRequest{Credentials: creds, BatchID: campaign.BatchID})
		}
		if err != nil {
			log.Warn("stop batch failed", "batch_id", campaign.BatchID, "err", err)
		} else {
			stopped = true
		}
	}

	cancelled, err := s.store.PauseCampaign(ctx, campaign.ID)
	if err != nil {
		return StopResult{}, fmt.Errorf("pause campaign: %w", err)
	}
	log.Info("campaign stopped", "cancelled", cancelled, "provider_stopped", stopped)

	s.record(ctx, audit.EventTypeCampaignStopped, campaign, req.Actor, "campaign stopped", map[string]any{
		"batch_id":  campaign.BatchID,
		"cancelled": cancelled,
	})

	return StopResult{CampaignID: campaign.ID, Cancelled: cancelled, ProviderStopped: stopped}, nil
}

func (s *Service) loadCampaign(ctx context.Context, organizationID, campaignID string) (calls.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.Campaign{}, ErrNotFound
	}
	if err != nil {
		return calls.Campaign{}, fmt.Errorf("load campaign: %w", err)
	}
	if c.OrganizationID != organizationID {
		return calls.Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *Service) credentials(ctx context.Context, organizationID string) (telephony.Credentials, error) {
	st, err := s.settings.GetOrgSettings(ctx, organizationID)
	if errors.Is(err, crm.ErrNotFound) {
		return telephony.Credentials{}, ErrNotConfigured
	}
	if err != nil {
		return telephony.Credentials{}, fmt.Errorf("load organization settings: %w", err)
	}
	if !st.HasCallCenter() {
		return telephony.Credentials{}, ErrNotConfigured
	}
	return telephony.Credentials{
		APIKey:     st.CallCenterAPIKey,
		AgentID:    st.CallCenterAgentID,
		FromNumber: st.CallCenterFromNumber,
	}, nil
}

func (s *Service) record(ctx context.Context, typ audit.EventType, c calls.Campaign, actor audit.Actor, msg string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogCampaign(ctx, typ, c.OrganizationID, c.ID, actor, msg, meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", typ, "campaign_id", c.ID, "err", err)
	}
}
