package intent

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/channel/realtime"
	"github.com/jwalitptl/dorm-notify/internal/middleware"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/service/pipeline"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/httputil"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

type Handler struct {
	svc      *pipeline.Service
	registry *realtime.Registry
	logger   *logger.Logger
}

func NewHandler(svc *pipeline.Service, registry *realtime.Registry, logger *logger.Logger) *Handler {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("intentkind", func(fl validator.FieldLevel) bool {
			return model.IntentKind(fl.Field().String()).Valid()
		})
	}
	return &Handler{svc: svc, registry: registry, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, sessionAuth gin.HandlerFunc) {
	rg.POST("/notifications", h.Submit)
	rg.GET("/recipients/:id/notifications", h.ListByRecipient)
	rg.GET("/recipients/:id/notifications/stream", sessionAuth, h.Stream)
	rg.DELETE("/recipients/:id", h.RecipientDeleted)
}

type submitRequest struct {
	RecipientID    uuid.UUID       `json:"recipient_id" binding:"required"`
	Kind           string          `json:"kind" binding:"required,intentkind"`
	Payload        json.RawMessage `json:"payload" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Submit is the creation entry point for any business event producer.
func (h *Handler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid request body", err))
		return
	}

	intentID, err := h.svc.SubmitIdempotent(c.Request.Context(), req.RecipientID, model.IntentKind(req.Kind), req.Payload, req.IdempotencyKey)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrDuplicateIntent) {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithError(c, apperrors.NewBadRequest("failed to create intent", err))
		return
	}

	httputil.RespondWithCreated(c, gin.H{"intent_id": intentID})
}

// ListByRecipient serves the UI/audit read path.
func (h *Handler) ListByRecipient(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid recipient id", err))
		return
	}

	var statuses []model.IntentStatus
	if raw, ok := c.GetQuery("status"); ok {
		statuses = append(statuses, model.IntentStatus(raw))
	}

	intents, err := h.svc.ListByRecipient(c.Request.Context(), recipientID, statuses)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"notifications": intents})
}

// RecipientDeleted consumes the deletion event from tenant management.
func (h *Handler) RecipientDeleted(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid recipient id", err))
		return
	}

	if err := h.svc.HandleRecipientDeleted(c.Request.Context(), recipientID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"recipient_id": recipientID})
}

// Stream is the authenticated realtime channel: the SSE connection is
// registered as a live session (the realtime adapter pushes intents into
// it) and also receives every status transition for the recipient.
func (h *Handler) Stream(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid recipient id", err))
		return
	}

	claimed, ok := c.Get(middleware.RecipientIDKey)
	if !ok || claimed.(uuid.UUID) != recipientID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   gin.H{"code": http.StatusForbidden, "message": "stream does not belong to session"},
		})
		return
	}

	ctx := c.Request.Context()

	statusEvents, err := h.svc.Subscribe(ctx, recipientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	session := newSSESession()
	h.registry.Register(recipientID, session)
	defer h.registry.Unregister(recipientID, session.ID())

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-statusEvents:
			if !open {
				return false
			}
			c.SSEvent("status", event)
			return true
		case event, open := <-session.pushes:
			if !open {
				return false
			}
			c.SSEvent("notification", event)
			return true
		}
	})
}
