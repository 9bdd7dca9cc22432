// Package reconcile applies call-center webhook events to call records and
// campaign aggregates.
//
// Counter invariant: a call contributes to calls_completed and to its outcome
// counter only on the event that moves it from a non-terminal to a terminal
// status. The previous status is read under a row lock inside the same
// transaction that applies the delta, so redelivered events are no-ops.
package reconcile

import (
	"context"
	"time"

	"voice-crm/internal/calls"
	"voice-crm/internal/crm"
	"voice-crm/internal/messaging"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/phone"
)

const (
	// StaleAfter is the grace period after which queued calls are presumed skipped by the provider.
	StaleAfter = 10 * time.Minute

	sweepLockTTL = 30 * time.Second
)

// Store is the slice of calls.PostgresRepo the reconciler needs.
type Store interface {
	GetCall(ctx context.Context, id string) (calls.CallRecord, error)
	GetCampaign(ctx context.Context, id string) (calls.Campaign, error)
	GetGroup(ctx context.Context, id string) (calls.Group, error)
	FindCampaignByBatchID(ctx context.Context, batchID string) (calls.Campaign, error)
	FindCallByExecutionID(ctx context.Context, executionID string) (calls.CallRecord, error)
	FindLatestCallByPhone(ctx context.Context, phone, campaignID string) (calls.CallRecord, error)
	ListStaleCalls(ctx context.Context, campaignID string, cutoff time.Time) ([]calls.CallRecord, error)
	CountNonTerminal(ctx context.Context, campaignID string) (int, error)

	UpdateCall(ctx context.Context, id string, fn calls.CallMutation) (calls.CallRecord, calls.Counters, error)
	AddCampaignCost(ctx context.Context, campaignID string, cost float64) error
	CompleteCampaign(ctx context.Context, campaignID string, at time.Time) (bool, error)
}

type SettingsStore interface {
	GetOrgSettings(ctx context.Context, organizationID string) (crm.OrgSettings, error)
}

// SweepGate collapses concurrent sweeps of one campaign. ok=false means another
// worker is sweeping it right now.
type SweepGate interface {
	Acquire(ctx context.Context, campaignID string, ttl time.Duration) (release func(), ok bool, err error)
}

type Options struct {
	Messaging messaging.Defaults
	// Gate is optional; without it every finalization may sweep.
	Gate   SweepGate
	Region string
}

type Service struct {
	store    Store
	settings SettingsStore
	sender   messaging.Sender
	defaults messaging.Defaults
	gate     SweepGate
	region   string
	clock    func() time.Time
}

func NewService(store Store, settings SettingsStore, sender messaging.Sender, opts Options) *Service {
	if opts.Region == "" {
		opts.Region = phone.DefaultRegion
	}
	return &Service{
		store:    store,
		settings: settings,
		sender:   sender,
		defaults: opts.Messaging,
		gate:     opts.Gate,
		region:   opts.Region,
		clock:    time.Now,
	}
}

var _ telephony.EventReconciler = (*Service)(nil)
