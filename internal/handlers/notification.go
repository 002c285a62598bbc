package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guichetdigital/notification-service/internal/models"
	"github.com/guichetdigital/notification-service/internal/service"
	"go.uber.org/zap"
)

// NotificationService is the orchestrator surface the HTTP layer depends on.
type NotificationService interface {
	Send(ctx context.Context, payload *models.NotificationPayload) ([]*models.Notification, error)
	SendBulk(ctx context.Context, recipientIDs []string, payload *models.NotificationPayload)
	RetryFailed(ctx context.Context)
	GetStats(ctx context.Context, start, end time.Time) (*models.StatsReport, error)
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
}

// PushRegistry manages per-user device subscriptions for the push channel.
type PushRegistry interface {
	Register(ctx context.Context, userID, deviceToken string) error
	Unregister(ctx context.Context, userID, deviceToken string) error
}

type NotificationHandler struct {
	svc  NotificationService
	push PushRegistry
	log  *zap.Logger
}

func NewNotificationHandler(svc NotificationService, push PushRegistry, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, push: push, log: log}
}

func (h *NotificationHandler) Send(c *gin.Context) {
	var payload models.NotificationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	if payload.RecipientID == "" {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "recipient_id is required",
			Message: "Invalid Request Body",
		})
		return
	}

	records, err := h.svc.Send(c.Request.Context(), &payload)
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		c.JSON(http.StatusOK, models.APIResponse{
			Success: true,
			Message: "Notification Already Processed",
		})
	case errors.Is(err, models.ErrRecipientNotFound), errors.Is(err, models.ErrUnknownType):
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Validation failed",
		})
	case err != nil:
		// Records were persisted; the caller can inspect their state.
		c.JSON(http.StatusBadGateway, models.APIResponse{
			Success: false,
			Data:    records,
			Error:   err.Error(),
			Message: "Notification dispatch failed",
		})
	default:
		c.JSON(http.StatusCreated, models.APIResponse{
			Success: true,
			Data:    records,
			Message: "Notification sent",
		})
	}
}

type bulkSendRequest struct {
	RecipientIDs []string                   `json:"recipient_ids" binding:"required"`
	Payload      models.NotificationPayload `json:"payload" binding:"required"`
}

func (h *NotificationHandler) SendBulk(c *gin.Context) {
	var req bulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	// The bulk run paces itself across batches; do not hold the request open.
	go h.svc.SendBulk(context.Background(), req.RecipientIDs, &req.Payload)

	c.JSON(http.StatusAccepted, models.APIResponse{
		Success: true,
		Data:    gin.H{"recipients": len(req.RecipientIDs)},
		Message: "Bulk send accepted",
	})
}

func (h *NotificationHandler) RetryFailed(c *gin.Context) {
	go h.svc.RetryFailed(context.Background())
	c.JSON(http.StatusAccepted, models.APIResponse{
		Success: true,
		Message: "Retry sweep started",
	})
}

func (h *NotificationHandler) GetStats(c *gin.Context) {
	start, err := parseDate(c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "invalid start date",
			Message: "Invalid Request",
		})
		return
	}
	end, err := parseDate(c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "invalid end date",
			Message: "Invalid Request",
		})
		return
	}

	report, err := h.svc.GetStats(c.Request.Context(), start, end)
	if err != nil {
		h.log.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to aggregate statistics",
			Message: "Internal Server Error",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    report,
		Message: "Statistics",
	})
}

type cleanupRequest struct {
	DaysToKeep int `json:"days_to_keep"`
}

func (h *NotificationHandler) Cleanup(c *gin.Context) {
	// An empty or absent body is fine, the default retention applies.
	var req cleanupRequest
	_ = c.ShouldBindJSON(&req)

	deleted, err := h.svc.Cleanup(c.Request.Context(), req.DaysToKeep)
	if err != nil {
		h.log.Error("cleanup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "cleanup failed",
			Message: "Internal Server Error",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Data:    gin.H{"deleted": deleted},
		Message: "Cleanup done",
	})
}

type subscriptionRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DeviceToken string `json:"device_token" binding:"required"`
}

func (h *NotificationHandler) RegisterPushSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	if err := h.push.Register(c.Request.Context(), req.UserID, req.DeviceToken); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Subscription failed",
		})
		return
	}
	c.JSON(http.StatusCreated, models.APIResponse{
		Success: true,
		Message: "Subscription registered",
	})
}

func (h *NotificationHandler) UnregisterPushSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	if err := h.push.Unregister(c.Request.Context(), req.UserID, req.DeviceToken); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Unsubscription failed",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Subscription removed",
	})
}

// parseDate accepts RFC3339 timestamps or plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
