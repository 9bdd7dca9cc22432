package reconcile

import (
	"context"
	"errors"
	"fmt"

	"voice-crm/internal/calls"
	"voice-crm/internal/crm"
	"voice-crm/internal/messaging"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/logger"
)

const (
	ToolMarkAttendance = "mark_attendance"
	ToolRescheduleLead = "reschedule_lead"
	ToolSendGroupLink  = "send_whatsapp_group_link"
)

// HandleToolCall applies a mid-call tool invocation to the call named by call_id.
func (s *Service) HandleToolCall(ctx context.Context, ev telephony.ToolCall) (telephony.ToolCallResult, error) {
	if ev.CallID == "" {
		return telephony.ToolCallResult{}, fmt.Errorf("%w: empty call_id", telephony.ErrUnknownCall)
	}

	var (
		rec calls.CallRecord
		err error
	)
	switch ev.ToolName {
	case ToolMarkAttendance:
		outcome := calls.OutcomeConfirmed
		if ev.Outcome != "" {
			outcome = calls.NormalizeOutcome(ev.Outcome)
		}
		rec, err = s.completeFromTool(ctx, ev.CallID, outcome, "", attendanceCounter)
	case ToolRescheduleLead:
		rec, err = s.completeFromTool(ctx, ev.CallID, calls.OutcomeRescheduled, ev.RescheduleDay, calls.OutcomeCounter)
	case ToolSendGroupLink:
		rec, err = s.sendGroupLink(ctx, ev.CallID)
	default:
		return telephony.ToolCallResult{}, fmt.Errorf("%w: %q", telephony.ErrUnknownTool, ev.ToolName)
	}
	if err != nil {
		return telephony.ToolCallResult{}, err
	}

	logger.From(ctx).Info("tool call applied",
		"tool", ev.ToolName,
		"call_id", rec.ID,
		"campaign_id", rec.CampaignID,
		"status", rec.Status,
		"outcome", rec.Outcome,
	)
	return telephony.ToolCallResult{
		CallID:   rec.ID,
		Status:   string(rec.Status),
		Outcome:  string(rec.Outcome),
		LinkSent: rec.LinkSent,
	}, nil
}

// attendanceCounter only credits the outcomes mark_attendance is responsible
// for; everything else is covered by calls_completed alone.
func attendanceCounter(o calls.Outcome) calls.Counters {
	switch o {
	case calls.OutcomeConfirmed, calls.OutcomeNotInterested, calls.OutcomeAngry:
		return calls.OutcomeCounter(o)
	}
	return calls.Counters{}
}

// completeFromTool sets the outcome if still unset and moves the call to
// completed, counting only when the call was not terminal before.
func (s *Service) completeFromTool(ctx context.Context, callID string, outcome calls.Outcome, rescheduleDay string, counter func(calls.Outcome) calls.Counters) (calls.CallRecord, error) {
	rec, _, err := s.store.UpdateCall(ctx, callID, func(prev calls.CallRecord) (calls.CallRecord, calls.Counters) {
		next := prev
		var delta calls.Counters

		outcomeSet := false
		if prev.Outcome == calls.OutcomeNone {
			next.Outcome = outcome
			outcomeSet = true
		}
		if rescheduleDay != "" {
			next.RescheduleDay = rescheduleDay
		}
		if !prev.Status.IsTerminal() {
			next.Status = calls.CallStatusCompleted
			delta.Completed = 1
			if outcomeSet {
				delta = delta.Add(counter(next.Outcome))
			}
		}
		return next, delta
	})
	return rec, lookupErr(err)
}

// sendGroupLink sends the campaign group's invite link to the contact. The send
// is best-effort; link_sent records the attempt.
func (s *Service) sendGroupLink(ctx context.Context, callID string) (calls.CallRecord, error) {
	log := logger.From(ctx).With("call_id", callID)

	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return calls.CallRecord{}, lookupErr(err)
	}
	campaign, err := s.store.GetCampaign(ctx, call.CampaignID)
	if err != nil {
		return calls.CallRecord{}, fmt.Errorf("load campaign: %w", err)
	}

	var link string
	if campaign.GroupID != "" {
		group, err := s.store.GetGroup(ctx, campaign.GroupID)
		switch {
		case err == nil:
			link = group.InviteLink
		case errors.Is(err, calls.ErrNotFound):
			log.Warn("campaign group missing", "group_id", campaign.GroupID)
		default:
			return calls.CallRecord{}, fmt.Errorf("load group: %w", err)
		}
	}

	org, err := s.settings.GetOrgSettings(ctx, campaign.OrganizationID)
	if err != nil && !errors.Is(err, crm.ErrNotFound) {
		log.Warn("organization settings unavailable, using defaults", "err", err)
	}
	cfg := messaging.Resolve(org, s.defaults)

	switch {
	case link == "":
		log.Info("group link not sent: campaign has no invite link")
	case cfg.GroupLinkTemplate == "":
		log.Info("group link not sent: no template configured")
	default:
		err := s.sender.SendTemplate(ctx, messaging.Message{
			APIKey:      cfg.APIKey,
			Template:    cfg.GroupLinkTemplate,
			Destination: call.ContactPhone,
			UserName:    call.ContactName,
			Params:      []string{call.ContactName, link},
		})
		if err != nil {
			log.Warn("group link send failed", "err", err)
		}
	}

	rec, _, err := s.store.UpdateCall(ctx, callID, func(prev calls.CallRecord) (calls.CallRecord, calls.Counters) {
		next := prev
		next.LinkSent = true
		return next, calls.Counters{}
	})
	return rec, lookupErr(err)
}

func lookupErr(err error) error {
	if errors.Is(err, calls.ErrNotFound) {
		return fmt.Errorf("%w: %w", telephony.ErrUnknownCall, err)
	}
	return err
}
