// Package messaging sends templated WhatsApp messages through the campaign API.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voice-crm/internal/crm"
	"voice-crm/internal/resilient"
	"voice-crm/pkg/phone"
)

const sendTimeout = 10 * time.Second

var (
	ErrNotConfigured = errors.New("messaging: api key or template missing")
	ErrInvalidPhone  = errors.New("messaging: destination is not a phone number")
	ErrUpstream      = errors.New("messaging: send failed")
)

// Message is one templated send. Params are positional template variables.
type Message struct {
	APIKey      string
	Template    string
	Destination string
	UserName    string
	Params      []string
	Media       *Media
}

type Media struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Sender delivers templated messages.
type Sender interface {
	SendTemplate(ctx context.Context, msg Message) error
}

// HTTPSender posts to the provider's campaign endpoint.
type HTTPSender struct {
	caller   resilient.Caller
	endpoint string
	region   string
}

func NewHTTPSender(caller resilient.Caller, endpoint, region string) *HTTPSender {
	if region == "" {
		region = phone.DefaultRegion
	}
	return &HTTPSender{caller: caller, endpoint: endpoint, region: region}
}

var _ Sender = (*HTTPSender)(nil)

type sendPayload struct {
	APIKey         string   `json:"apiKey"`
	CampaignName   string   `json:"campaignName"`
	Destination    string   `json:"destination"`
	UserName       string   `json:"userName"`
	TemplateParams []string `json:"templateParams"`
	Media          *Media   `json:"media,omitempty"`
}

func (s *HTTPSender) SendTemplate(ctx context.Context, msg Message) error {
	if msg.APIKey == "" || msg.Template == "" {
		return ErrNotConfigured
	}
	dest := phone.WithoutPlus(phone.NormalizeE164(msg.Destination, s.region))
	if dest == "" || strings.Trim(dest, "0123456789") != "" {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, msg.Destination)
	}
	params := msg.Params
	if params == nil {
		params = []string{}
	}

	req, err := resilient.JSONRequest(http.MethodPost, s.endpoint, sendPayload{
		APIKey:         msg.APIKey,
		CampaignName:   msg.Template,
		Destination:    dest,
		UserName:       msg.UserName,
		TemplateParams: params,
		Media:          msg.Media,
	})
	if err != nil {
		return err
	}
	resp, err := s.caller.CallWithTimeout(ctx, req, sendTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	if err := resp.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return nil
}

// Defaults are the environment-level fallbacks for organizations without their
// own messaging settings.
type Defaults struct {
	APIKey             string
	GroupLinkTemplate  string
	RescheduleTemplate string
	SupportNumber      string
	RescheduleMediaURL string
}

// Settings is the effective per-organization messaging configuration.
type Settings struct {
	APIKey             string
	GroupLinkTemplate  string
	RescheduleTemplate string
	SupportNumber      string
	RescheduleMediaURL string
}

// Resolve applies organization settings first and environment defaults second,
// field by field.
func Resolve(org crm.OrgSettings, d Defaults) Settings {
	return Settings{
		APIKey:             firstNonEmpty(org.MessagingAPIKey, d.APIKey),
		GroupLinkTemplate:  firstNonEmpty(org.GroupLinkTemplate, d.GroupLinkTemplate),
		RescheduleTemplate: firstNonEmpty(org.RescheduleTemplate, d.RescheduleTemplate),
		SupportNumber:      firstNonEmpty(org.SupportNumber, d.SupportNumber),
		RescheduleMediaURL: firstNonEmpty(org.RescheduleMediaURL, d.RescheduleMediaURL),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
