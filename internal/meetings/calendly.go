package meetings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voice-crm/internal/crm"
	"voice-crm/internal/resilient"
	"voice-crm/pkg/ist"
	"voice-crm/pkg/phone"
)

const (
	calendlyTimeout       = 10 * time.Second
	calendlyCreateTimeout = 15 * time.Second
	calendlyTimezone      = "Asia/Kolkata"
)

// CalendlyProvider books invitees on the closer's event type with a
// personal access token.
type CalendlyProvider struct {
	caller  resilient.Caller
	baseURL string
	token   string
	region  string
}

func (p *CalendlyProvider) Kind() crm.MeetingProvider { return crm.MeetingProviderCalendly }

type calendlyUser struct {
	Resource struct {
		URI string `json:"uri"`
	} `json:"resource"`
}

type calendlyEventType struct {
	URI             string             `json:"uri"`
	Name            string             `json:"name"`
	Slug            string             `json:"slug"`
	Active          bool               `json:"active"`
	CustomQuestions []calendlyQuestion `json:"custom_questions"`
}

type calendlyQuestion struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Position      int      `json:"position"`
	Enabled       bool     `json:"enabled"`
	Required      bool     `json:"required"`
	AnswerChoices []string `json:"answer_choices"`
}

type calendlyAnswer struct {
	Question string `json:"question"`
	Answer   any    `json:"answer"`
	Position int    `json:"position"`
}

type calendlyInviteeRequest struct {
	EventType           string           `json:"event_type"`
	StartTime           string           `json:"start_time"`
	Invitee             calendlyInvitee  `json:"invitee"`
	Location            calendlyLocation `json:"location"`
	QuestionsAndAnswers []calendlyAnswer `json:"questions_and_answers,omitempty"`
}

type calendlyInvitee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

type calendlyLocation struct {
	Kind    string `json:"kind"`
	JoinURL string `json:"join_url,omitempty"`
}

type calendlyInviteeResponse struct {
	Resource struct {
		URI      string            `json:"uri"`
		Event    string            `json:"event"`
		Location *calendlyLocation `json:"location"`
	} `json:"resource"`
}

type calendlyScheduledEvent struct {
	Resource struct {
		URI      string            `json:"uri"`
		Location *calendlyLocation `json:"location"`
	} `json:"resource"`
}

// ProvisionMeeting books the lead on the closer's best matching event type and
// returns the conference link and scheduled event uuid.
func (p *CalendlyProvider) ProvisionMeeting(ctx context.Context, req Request) (Meeting, error) {
	start, err := ist.Parse(req.Date, req.Time)
	if err != nil {
		return Meeting{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	if req.Lead.Email == "" {
		return Meeting{}, errors.New("meetings: lead has no email for calendly invitee")
	}

	var me calendlyUser
	if err := p.get(ctx, p.baseURL+"/users/me", &me); err != nil {
		return Meeting{}, err
	}

	var list struct {
		Collection []calendlyEventType `json:"collection"`
	}
	q := url.Values{"user": {me.Resource.URI}, "active": {"true"}}
	if err := p.get(ctx, p.baseURL+"/event_types?"+q.Encode(), &list); err != nil {
		return Meeting{}, err
	}
	chosen, ok := pickEventType(list.Collection, req.Closer)
	if !ok {
		return Meeting{}, ErrNoEventType
	}

	var detail struct {
		Resource calendlyEventType `json:"resource"`
	}
	if err := p.get(ctx, p.baseURL+"/event_types/"+url.PathEscape(lastSegment(chosen.URI)), &detail); err != nil {
		return Meeting{}, err
	}

	r, err := resilient.JSONRequest(http.MethodPost, p.baseURL+"/invitees", calendlyInviteeRequest{
		EventType: chosen.URI,
		StartTime: start.UTC().Format(time.RFC3339),
		Invitee: calendlyInvitee{
			Name:     req.Lead.Name,
			Email:    req.Lead.Email,
			Timezone: calendlyTimezone,
		},
		Location:            calendlyLocation{Kind: "zoom_conference"},
		QuestionsAndAnswers: p.answers(detail.Resource.CustomQuestions, req.Lead),
	})
	if err != nil {
		return Meeting{}, err
	}
	p.authorize(r.Header)
	resp, err := p.caller.CallWithConnectionResetRetry(ctx, r, calendlyCreateTimeout)
	if err != nil {
		return Meeting{}, fmt.Errorf("%w: calendly invitee: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return Meeting{}, fmt.Errorf("%w: calendly invitee: %w", ErrUpstream, err)
	}
	var created calendlyInviteeResponse
	if err := resp.DecodeJSON(&created); err != nil {
		return Meeting{}, fmt.Errorf("%w: calendly invitee: %w", ErrUpstream, err)
	}

	out := Meeting{EventID: lastSegment(created.Resource.Event)}
	if loc := created.Resource.Location; loc != nil {
		out.JoinURL = loc.JoinURL
	}
	if out.JoinURL == "" && created.Resource.Event != "" {
		var ev calendlyScheduledEvent
		if err := p.get(ctx, p.baseURL+"/scheduled_events/"+url.PathEscape(out.EventID), &ev); err != nil {
			return out, err
		}
		if ev.Resource.Location != nil {
			out.JoinURL = ev.Resource.Location.JoinURL
		}
	}
	if out.JoinURL == "" {
		return out, ErrMissingJoinURL
	}
	return out, nil
}

// CancelMeeting cancels a scheduled event by uuid.
func (p *CalendlyProvider) CancelMeeting(ctx context.Context, eventID, reason string) error {
	r, err := resilient.JSONRequest(http.MethodPost, p.baseURL+"/scheduled_events/"+url.PathEscape(eventID)+"/cancellation", map[string]string{
		"reason": reason,
	})
	if err != nil {
		return err
	}
	p.authorize(r.Header)
	resp, err := p.caller.CallWithTimeout(ctx, r, calendlyTimeout)
	if err != nil {
		return fmt.Errorf("%w: calendly cancel: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("%w: calendly cancel: %w", ErrUpstream, err)
	}
	return nil
}

func (p *CalendlyProvider) get(ctx context.Context, u string, out any) error {
	h := http.Header{}
	p.authorize(h)
	resp, err := p.caller.CallWithRetry(ctx, resilient.Request{Method: http.MethodGet, URL: u, Header: h}, resilient.RetryOptions{
		MaxRetries: resilient.DefaultMaxRetries,
		Timeout:    calendlyTimeout,
	})
	if err != nil {
		return fmt.Errorf("%w: calendly get: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("%w: calendly get: %w", ErrUpstream, err)
	}
	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("%w: calendly get: %w", ErrUpstream, err)
	}
	return nil
}

func (p *CalendlyProvider) authorize(h http.Header) {
	h.Set("Authorization", "Bearer "+p.token)
	h.Set("Accept", "application/json")
}

// answers fills custom questions: phone questions get the lead's number,
// single-choice questions their first choice, and the rest a null answer.
func (p *CalendlyProvider) answers(qs []calendlyQuestion, lead crm.Lead) []calendlyAnswer {
	var out []calendlyAnswer
	for _, q := range qs {
		if !q.Enabled {
			continue
		}
		a := calendlyAnswer{Question: q.Name, Position: q.Position}
		switch q.Type {
		case "phone_number":
			if n := phone.NormalizeE164(lead.Phone, p.region); n != "" {
				a.Answer = n
			}
		case "single_select":
			if len(q.AnswerChoices) > 0 {
				a.Answer = q.AnswerChoices[0]
			}
		}
		out = append(out, a)
	}
	return out
}

// pickEventType prefers an event type named "direct", then one whose name
// contains the closer's full name or surname, then the first listed.
func pickEventType(types []calendlyEventType, closer crm.Closer) (calendlyEventType, bool) {
	if len(types) == 0 {
		return calendlyEventType{}, false
	}
	for _, t := range types {
		if strings.EqualFold(strings.TrimSpace(t.Name), "direct") {
			return t, true
		}
	}
	full := strings.ToLower(strings.TrimSpace(closer.FullName))
	surname := strings.ToLower(closer.Surname())
	for _, t := range types {
		name := strings.ToLower(t.Name)
		if (full != "" && strings.Contains(name, full)) || (surname != "" && strings.Contains(name, surname)) {
			return t, true
		}
	}
	return types[0], true
}
