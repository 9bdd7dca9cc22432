package main

import (
	"voice-crm/internal/auth"
	"voice-crm/internal/httpapi"
	"voice-crm/internal/rbac"
	"voice-crm/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth           *auth.Manager
	handlers       httpapi.Handlers
	webhook        telephony.VoiceWebhookHandler
	webhookLimiter *httpapi.IPRateLimiter
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", d.handlers.Healthz)

	// Provider webhooks (public; optional shared secret checked by the handler).
	// The provider itself is never throttled: a 429 there only buys a redelivery.
	r.POST("/webhooks/voice", d.webhookLimiter.MiddlewareExcept(d.webhook.Trusted), d.webhook.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth), rbac.RequireOrganization())
	{
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireAnyRole(rbac.CampaignOperators...))
		{
			campaigns.POST("/:campaign_id/start", d.handlers.StartCampaign)
			campaigns.POST("/:campaign_id/stop", d.handlers.StopCampaign)
		}

		appointments := v1.Group("/appointments")
		appointments.Use(rbac.RequireAnyRole(rbac.Reassigners...))
		{
			appointments.POST("/reassign", d.handlers.ReassignAppointment)
		}
	}
}
