package meetings

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"voice-crm/internal/crm"
	"voice-crm/internal/resilient"
	"voice-crm/pkg/ist"
)

const (
	zoomTimeout         = 10 * time.Second
	zoomMeetingDuration = 90
	zoomTimezone        = "Asia/Kolkata"
)

// ZoomProvider books scheduled meetings with a server-to-server OAuth app.
type ZoomProvider struct {
	caller     resilient.Caller
	oauthURL   string
	apiBaseURL string

	accountID string
	clientID  string
	secret    string
}

func (p *ZoomProvider) Kind() crm.MeetingProvider { return crm.MeetingProviderZoom }

type zoomToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (p *ZoomProvider) accessToken(ctx context.Context) (string, error) {
	q := url.Values{}
	if p.accountID != "" {
		q.Set("grant_type", "account_credentials")
		q.Set("account_id", p.accountID)
	} else {
		q.Set("grant_type", "client_credentials")
	}
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(p.clientID+":"+p.secret)))
	h.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.caller.CallWithRetry(ctx, resilient.Request{
		Method: http.MethodPost,
		URL:    p.oauthURL + "/oauth/token?" + q.Encode(),
		Header: h,
	}, resilient.RetryOptions{MaxRetries: resilient.DefaultMaxRetries, Timeout: zoomTimeout})
	if err != nil {
		return "", fmt.Errorf("%w: zoom token: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return "", fmt.Errorf("%w: zoom token: %w", ErrUpstream, err)
	}
	var tok zoomToken
	if err := resp.DecodeJSON(&tok); err != nil {
		return "", fmt.Errorf("%w: zoom token: %w", ErrUpstream, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: zoom token: empty access_token", ErrUpstream)
	}
	return tok.AccessToken, nil
}

type zoomMeetingSettings struct {
	ApprovalType     int    `json:"approval_type"`
	RegistrationType int    `json:"registration_type"`
	Audio            string `json:"audio"`
	AutoRecording    string `json:"auto_recording"`
	JoinBeforeHost   bool   `json:"join_before_host"`
	WaitingRoom      bool   `json:"waiting_room"`
}

type zoomMeetingRequest struct {
	Topic     string              `json:"topic"`
	Type      int                 `json:"type"`
	StartTime string              `json:"start_time"`
	Duration  int                 `json:"duration"`
	Timezone  string              `json:"timezone"`
	Settings  zoomMeetingSettings `json:"settings"`
}

type zoomMeeting struct {
	ID      int64  `json:"id"`
	JoinURL string `json:"join_url"`
}

// ProvisionMeeting creates a 90 minute scheduled meeting with registration and
// cloud recording.
func (p *ZoomProvider) ProvisionMeeting(ctx context.Context, req Request) (Meeting, error) {
	start, err := ist.Parse(req.Date, req.Time)
	if err != nil {
		return Meeting{}, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return Meeting{}, err
	}

	r, err := resilient.JSONRequest(http.MethodPost, p.apiBaseURL+"/users/me/meetings", zoomMeetingRequest{
		Topic:     req.Topic,
		Type:      2,
		StartTime: start.Format("2006-01-02T15:04:05"),
		Duration:  zoomMeetingDuration,
		Timezone:  zoomTimezone,
		Settings: zoomMeetingSettings{
			ApprovalType:     0,
			RegistrationType: 1,
			Audio:            "both",
			AutoRecording:    "cloud",
		},
	})
	if err != nil {
		return Meeting{}, err
	}
	r.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.caller.CallWithTimeout(ctx, r, zoomTimeout)
	if err != nil {
		return Meeting{}, fmt.Errorf("%w: zoom meeting: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return Meeting{}, fmt.Errorf("%w: zoom meeting: %w", ErrUpstream, err)
	}
	var m zoomMeeting
	if err := resp.DecodeJSON(&m); err != nil {
		return Meeting{}, fmt.Errorf("%w: zoom meeting: %w", ErrUpstream, err)
	}
	if m.JoinURL == "" {
		return Meeting{}, ErrMissingJoinURL
	}
	return Meeting{JoinURL: m.JoinURL}, nil
}

// CancelMeeting is not supported. Zoom meetings carry no booking reference, so
// reassignment only ever cancels Calendly events.
func (p *ZoomProvider) CancelMeeting(ctx context.Context, eventID, reason string) error {
	return fmt.Errorf("%w: zoom cancel", ErrUnsupported)
}
