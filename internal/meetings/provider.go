// Package meetings provisions video meetings for closers through whichever
// provider their integration names.
package meetings

import (
	"context"
	"errors"
	"strings"

	"voice-crm/internal/crm"
	"voice-crm/internal/resilient"
	"voice-crm/pkg/phone"
)

var (
	ErrUpstream        = errors.New("meetings: provider request failed")
	ErrNoEventType     = errors.New("meetings: no active event type")
	ErrMissingJoinURL  = errors.New("meetings: provider returned no join url")
	ErrInvalidSchedule = errors.New("meetings: invalid date or time")
	ErrUnsupported     = errors.New("meetings: operation not supported by provider")
)

// Request describes the meeting to book. Date is YYYY-MM-DD and Time is
// HH:MM[:SS], both IST wall clock.
type Request struct {
	Topic  string
	Date   string
	Time   string
	Closer crm.Closer
	Lead   crm.Lead
}

// Meeting is what a provider hands back. EventID is only set by providers that
// keep a cancellable booking.
type Meeting struct {
	JoinURL string
	EventID string
}

// Provider is the capability every meeting integration implements.
type Provider interface {
	Kind() crm.MeetingProvider
	ProvisionMeeting(ctx context.Context, req Request) (Meeting, error)
	CancelMeeting(ctx context.Context, eventID, reason string) error
}

// Config holds the provider endpoints. Credentials come from each integration.
type Config struct {
	ZoomOAuthURL    string
	ZoomAPIBaseURL  string
	CalendlyBaseURL string
	PhoneRegion     string
}

// Factory builds a Provider per integration, sharing one resilient caller.
type Factory struct {
	caller resilient.Caller
	cfg    Config
}

func NewFactory(caller resilient.Caller, cfg Config) *Factory {
	if cfg.ZoomOAuthURL == "" {
		cfg.ZoomOAuthURL = "https://zoom.us"
	}
	if cfg.ZoomAPIBaseURL == "" {
		cfg.ZoomAPIBaseURL = "https://api.zoom.us/v2"
	}
	if cfg.CalendlyBaseURL == "" {
		cfg.CalendlyBaseURL = "https://api.calendly.com"
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = phone.DefaultRegion
	}
	cfg.ZoomOAuthURL = strings.TrimRight(cfg.ZoomOAuthURL, "/")
	cfg.ZoomAPIBaseURL = strings.TrimRight(cfg.ZoomAPIBaseURL, "/")
	cfg.CalendlyBaseURL = strings.TrimRight(cfg.CalendlyBaseURL, "/")
	return &Factory{caller: caller, cfg: cfg}
}

// Resolve returns the provider bound by the integration, or nil when the
// closer has none or its credentials are incomplete.
func (f *Factory) Resolve(in crm.ClosersIntegration) Provider {
	switch in.Provider {
	case crm.MeetingProviderZoom:
		if in.ZoomClientID == "" || in.ZoomClientSecret == "" {
			return nil
		}
		return &ZoomProvider{
			caller:     f.caller,
			oauthURL:   f.cfg.ZoomOAuthURL,
			apiBaseURL: f.cfg.ZoomAPIBaseURL,
			accountID:  in.ZoomAccountID,
			clientID:   in.ZoomClientID,
			secret:     in.ZoomClientSecret,
		}
	case crm.MeetingProviderCalendly:
		if in.CalendlyToken == "" {
			return nil
		}
		return &CalendlyProvider{
			caller:  f.caller,
			baseURL: f.cfg.CalendlyBaseURL,
			token:   in.CalendlyToken,
			region:  f.cfg.PhoneRegion,
		}
	}
	return nil
}

// lastSegment extracts the uuid from a provider resource URI.
func lastSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
