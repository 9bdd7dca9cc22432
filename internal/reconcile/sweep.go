package reconcile

import (
	"context"
	"errors"
	"fmt"

	"voice-crm/internal/calls"
	"voice-crm/pkg/logger"
)

// Sweep fails calls the provider never reported on. It only runs once
// StaleAfter has passed since the campaign started, and only touches rows still
// queued or pending that have not changed for StaleAfter.
func (s *Service) Sweep(ctx context.Context, campaignID string) (int, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("load campaign: %w", err)
	}
	now := s.clock().UTC()
	if campaign.StartedAt == nil || now.Sub(*campaign.StartedAt) < StaleAfter {
		return 0, nil
	}

	log := logger.From(ctx).With("campaign_id", campaignID)
	if s.gate != nil {
		release, ok, err := s.gate.Acquire(ctx, campaignID, sweepLockTTL)
		switch {
		case err != nil:
			log.Warn("sweep lock unavailable, sweeping unlocked", "err", err)
		case !ok:
			return 0, nil
		default:
			defer release()
		}
	}

	stale, err := s.store.ListStaleCalls(ctx, campaignID, now.Add(-StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale calls: %w", err)
	}

	swept := 0
	for _, c := range stale {
		_, delta, err := s.store.UpdateCall(ctx, c.ID, sweepMutation)
		if errors.Is(err, calls.ErrNotFound) {
			continue
		}
		if err != nil {
			return swept, fmt.Errorf("sweep call %s: %w", c.ID, err)
		}
		if !delta.IsZero() {
			swept++
		}
	}
	if swept > 0 {
		log.Info("stale calls swept", "count", swept)
	}
	return swept, nil
}

// sweepMutation re-checks the locked row: a call that moved on since it was
// listed is left alone.
func sweepMutation(prev calls.CallRecord) (calls.CallRecord, calls.Counters) {
	if prev.Status != calls.CallStatusQueued && prev.Status != calls.CallStatusPending {
		return prev, calls.Counters{}
	}
	next := prev
	next.Status = calls.CallStatusFailed
	if next.Outcome == calls.OutcomeNone {
		next.Outcome = calls.OutcomeInvalidNumber
	}
	return next, calls.Counters{Completed: 1, NoAnswer: 1}
}

// CompleteIfDone marks the campaign completed once no call is left in a
// non-terminal status. It reports whether the campaign is done.
func (s *Service) CompleteIfDone(ctx context.Context, campaignID string) (bool, error) {
	n, err := s.store.CountNonTerminal(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("count open calls: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	changed, err := s.store.CompleteCampaign(ctx, campaignID, s.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	if changed {
		logger.From(ctx).Info("campaign completed", "campaign_id", campaignID)
	}
	return true, nil
}
