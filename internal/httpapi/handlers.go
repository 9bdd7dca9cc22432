package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"voice-crm/internal/audit"
	"voice-crm/internal/auth"
	"voice-crm/internal/dispatch"
	"voice-crm/internal/reassign"
	"voice-crm/internal/telephony"
	"voice-crm/pkg/logger"
	"voice-crm/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// CampaignController is satisfied by *dispatch.Service.
type CampaignController interface {
	Start(ctx context.Context, req dispatch.StartRequest) (dispatch.StartResult, error)
	Stop(ctx context.Context, req dispatch.StopRequest) (dispatch.StopResult, error)
}

// Reassigner is satisfied by *reassign.Service.
type Reassigner interface {
	Reassign(ctx context.Context, req reassign.Request) (reassign.Result, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	DB        *sql.DB
	Campaigns CampaignController
	Reassign  Reassigner
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			logger.FromGin(c).Error("health check failed", "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Campaigns ---

type startCampaignRequest struct {
	WorkshopTime string     `json:"workshop_time" validate:"max=200"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

// StartCampaign submits the campaign's pending calls to the call center.
// RBAC: owner, admin or super_admin.
func (h Handlers) StartCampaign(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	orgID, ok := organization(c)
	if !ok {
		return
	}

	var req startCampaignRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": validationDetails(err)})
		return
	}

	res, err := h.Campaigns.Start(c.Request.Context(), dispatch.StartRequest{
		OrganizationID: orgID,
		CampaignID:     c.Param("campaign_id"),
		WorkshopTime:   req.WorkshopTime,
		ScheduledAt:    req.ScheduledAt,
		Actor:          actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// StopCampaign pauses the campaign and cancels calls not yet placed.
// RBAC: owner, admin or super_admin.
func (h Handlers) StopCampaign(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	orgID, ok := organization(c)
	if !ok {
		return
	}

	res, err := h.Campaigns.Stop(c.Request.Context(), dispatch.StopRequest{
		OrganizationID: orgID,
		CampaignID:     c.Param("campaign_id"),
		Actor:          actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}

// --- Appointments ---

type reassignRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	NewCloserID   string `json:"new_closer_id" validate:"required,uuid"`
	NewDate       string `json:"new_date" validate:"required,datetime=2006-01-02"`
	NewTime       string `json:"new_time" validate:"required"`
}

// ReassignAppointment moves an appointment to another closer.
// RBAC: owner, admin, manager or super_admin.
func (h Handlers) ReassignAppointment(c *gin.Context) {
	if h.Reassign == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reassignment not configured"})
		return
	}
	orgID, ok := organization(c)
	if !ok {
		return
	}

	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": validationDetails(err)})
		return
	}

	res, err := h.Reassign.Reassign(c.Request.Context(), reassign.Request{
		OrganizationID: orgID,
		AppointmentID:  req.AppointmentID,
		NewCloserID:    req.NewCloserID,
		NewDate:        req.NewDate,
		NewTime:        req.NewTime,
		Actor:          actor(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func organization(c *gin.Context) (string, bool) {
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization required"})
		return "", false
	}
	return orgID, true
}

func actor(c *gin.Context) audit.Actor {
	ctx := c.Request.Context()
	userID, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return audit.Actor{UserID: userID, Role: role, IP: c.ClientIP()}
}

// writeError maps service errors to status codes. Unmapped errors are logged
// and hidden behind a generic 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidArgument),
		errors.Is(err, dispatch.ErrNoPendingCalls),
		errors.Is(err, dispatch.ErrNotConfigured),
		errors.Is(err, reassign.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, reassign.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, telephony.ErrUpstream):
		logger.FromGin(c).Error("upstream provider failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call center request failed"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// validationDetails renders validator errors as "field: rule" pairs.
func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out = append(out, fe.Field()+": "+rule)
	}
	return out
}
