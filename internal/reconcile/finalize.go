package reconcile

import (
	"context"
	"errors"
	"fmt"

	"voice-crm/internal/calls"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/logger"
	"voice-crm/pkg/phone"
)

var errNoMatch = errors.New("reconcile: no call record matched")

// HandleFinalization applies a post-call report. An event that matches no call
// is answered with a warning, not an error, so the provider stops redelivering.
func (s *Service) HandleFinalization(ctx context.Context, ev telephony.Finalization) (telephony.FinalizationResult, error) {
	log := logger.From(ctx).With("execution_id", ev.ExecutionID, "batch_id", ev.BatchID)

	call, err := s.match(ctx, ev)
	if errors.Is(err, errNoMatch) {
		log.Warn("finalization matched no call record", "to_number", ev.ToNumber)
		return telephony.FinalizationResult{Matched: false, Warning: "no call record matched execution id or phone number"}, nil
	}
	if err != nil {
		return telephony.FinalizationResult{}, err
	}

	status := telephony.MapStatus(ev.Status)
	rec, delta, err := s.store.UpdateCall(ctx, call.ID, func(prev calls.CallRecord) (calls.CallRecord, calls.Counters) {
		return applyFinalization(prev, ev, status)
	})
	if err != nil {
		return telephony.FinalizationResult{}, fmt.Errorf("update call record: %w", err)
	}
	log = log.With("call_id", rec.ID, "campaign_id", rec.CampaignID)
	log.Info("finalization applied", "status", rec.Status, "outcome", rec.Outcome, "counted", !delta.IsZero())

	// Cost is not tied to the terminal transition: every reported charge is added.
	if ev.TotalCost != 0 {
		if err := s.store.AddCampaignCost(ctx, rec.CampaignID, ev.TotalCost); err != nil {
			return telephony.FinalizationResult{}, fmt.Errorf("add campaign cost: %w", err)
		}
	}

	swept, err := s.Sweep(ctx, rec.CampaignID)
	if err != nil {
		log.Error("stale sweep failed", "err", err)
	}
	done, err := s.CompleteIfDone(ctx, rec.CampaignID)
	if err != nil {
		log.Error("completion check failed", "err", err)
	}

	return telephony.FinalizationResult{
		Matched:           true,
		CallID:            rec.ID,
		Status:            string(rec.Status),
		Outcome:           string(rec.Outcome),
		Swept:             swept,
		CampaignCompleted: done,
	}, nil
}

// match finds the call by execution id first, then by phone variants of the
// destination number, newest first. Terminal calls are included so redelivered
// events still land on their record.
func (s *Service) match(ctx context.Context, ev telephony.Finalization) (calls.CallRecord, error) {
	if ev.ExecutionID != "" {
		c, err := s.store.FindCallByExecutionID(ctx, ev.ExecutionID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.CallRecord{}, fmt.Errorf("find by execution id: %w", err)
		}
	}

	// Narrowing by batch only happens when the event carries one; the same
	// number in two concurrently running campaigns is otherwise ambiguous.
	var campaignID string
	if ev.BatchID != "" {
		camp, err := s.store.FindCampaignByBatchID(ctx, ev.BatchID)
		switch {
		case err == nil:
			campaignID = camp.ID
		case !errors.Is(err, calls.ErrNotFound):
			return calls.CallRecord{}, fmt.Errorf("find campaign by batch: %w", err)
		}
	}

	for _, v := range phone.Variants(ev.ToNumber, s.region) {
		c, err := s.store.FindLatestCallByPhone(ctx, v, campaignID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.CallRecord{}, fmt.Errorf("find by phone: %w", err)
		}
	}
	return calls.CallRecord{}, errNoMatch
}

// applyFinalization is the CallMutation for a post-call report.
func applyFinalization(prev calls.CallRecord, ev telephony.Finalization, status calls.CallStatus) (calls.CallRecord, calls.Counters) {
	next := prev
	var delta calls.Counters

	wasTerminal := prev.Status.IsTerminal()
	if !wasTerminal {
		next.Status = status
	}

	outcomeSet := false
	if prev.Outcome == calls.OutcomeNone && next.Status.IsTerminal() {
		if o := resolveOutcome(ev.Attendance(), next.Status); o != calls.OutcomeNone {
			next.Outcome = o
			outcomeSet = true
		}
	}

	if next.ExecutionID == "" {
		next.ExecutionID = ev.ExecutionID
	}
	if ev.DurationSeconds > 0 {
		next.DurationSeconds = ev.DurationSeconds
	}
	if ev.TotalCost > 0 {
		next.Cost = ev.TotalCost
	}
	if ev.Transcript != "" {
		next.Transcript = ev.Transcript
	}
	if ev.RecordingURL != "" {
		next.RecordingURL = ev.RecordingURL
	}
	if len(ev.ExtractedData) > 0 {
		next.ExtractedData = ev.ExtractedData
	}

	if !wasTerminal && next.Status.IsTerminal() {
		delta.Completed = 1
		if outcomeSet {
			delta = delta.Add(calls.OutcomeCounter(next.Outcome))
		}
	}
	return next, delta
}

// resolveOutcome prefers the agent's extracted attendance, else no_response
// for calls nobody picked up.
func resolveOutcome(attendance string, status calls.CallStatus) calls.Outcome {
	if attendance != "" {
		return calls.NormalizeOutcome(attendance)
	}
	if status == calls.CallStatusNoAnswer || status == calls.CallStatusBusy {
		return calls.OutcomeNoResponse
	}
	return calls.OutcomeNone
}
