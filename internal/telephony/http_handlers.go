package telephony

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"voice-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Webhook-Secret"
	maxWebhookBody      = 1 << 20
)

// EventReconciler applies decoded webhook events to call state.
type EventReconciler interface {
	HandleToolCall(ctx context.Context, ev ToolCall) (ToolCallResult, error)
	HandleFinalization(ctx context.Context, ev Finalization) (FinalizationResult, error)
}

type ToolCallResult struct {
	CallID   string `json:"call_id"`
	Status   string `json:"status"`
	Outcome  string `json:"outcome,omitempty"`
	LinkSent bool   `json:"link_sent,omitempty"`
}

type FinalizationResult struct {
	Matched           bool   `json:"matched"`
	CallID            string `json:"call_id,omitempty"`
	Status            string `json:"status,omitempty"`
	Outcome           string `json:"outcome,omitempty"`
	Swept             int    `json:"swept,omitempty"`
	CampaignCompleted bool   `json:"campaign_completed,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// VoiceWebhookHandler converts the provider webhook to internal events and
// delegates to the reconciler. No business logic here.
type VoiceWebhookHandler struct {
	Reconciler EventReconciler

	// Secret, when set, must match the X-Webhook-Secret header.
	Secret string
}

// Trusted reports whether the request carries the configured shared secret.
// Without a secret no request is trusted.
func (h VoiceWebhookHandler) Trusted(c *gin.Context) bool {
	return h.Secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(headerWebhookSecret)), []byte(h.Secret)) == 1
}

func (h VoiceWebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciler not configured"})
		return
	}
	if h.Secret != "" && !h.Trusted(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ev, err := DecodeEvent(body)
	if err != nil {
		log.Warn("voice webhook decode failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	switch ev := ev.(type) {
	case ToolCall:
		res, err := h.Reconciler.HandleToolCall(ctx, ev)
		if err != nil {
			h.fail(c, err, "tool", ev.ToolName, "call_id", ev.CallID)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
	case Finalization:
		res, err := h.Reconciler.HandleFinalization(ctx, ev)
		if err != nil {
			h.fail(c, err, "execution_id", ev.ExecutionID)
			return
		}
		if !res.Matched {
			c.JSON(http.StatusOK, gin.H{"success": false, "warning": res.Warning})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
	}
}

func (h VoiceWebhookHandler) fail(c *gin.Context, err error, attrs ...any) {
	log := logger.FromGin(c).With(attrs...)
	switch {
	case errors.Is(err, ErrUnknownCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call record not found"})
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrInvalidEvent):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error("voice webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
