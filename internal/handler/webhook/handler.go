package webhook

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/linker"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/httputil"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Handler terminates the external platform's link/unlink webhook.
type Handler struct {
	linker *linker.Service
	logger *logger.Logger
}

func NewHandler(linker *linker.Service, logger *logger.Logger) *Handler {
	return &Handler{linker: linker, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/webhooks/messaging", h.HandleEvent)
	rg.POST("/recipients/:id/link-hints", h.IssueHint)
}

type linkEvent struct {
	EventType        string `json:"event_type" binding:"required,oneof=link unlink"`
	RecipientHint    string `json:"recipient_hint"`
	ExternalIdentity string `json:"external_identity" binding:"required"`
}

func (h *Handler) HandleEvent(c *gin.Context) {
	var event linkEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid webhook payload", err))
		return
	}

	ctx := c.Request.Context()

	switch event.EventType {
	case "link":
		link, err := h.linker.HandleLinkEvent(ctx, event.RecipientHint, event.ExternalIdentity)
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrUnresolvedRecipient) {
				// Hints are single-use; a blind retry can never succeed,
				// so the event is logged and dropped.
				h.logger.Warn("dropping unresolvable link event",
					"external_id", event.ExternalIdentity)
				httputil.RespondWithSuccess(c, gin.H{"dropped": true})
				return
			}
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, gin.H{"link_id": link.ID})
	case "unlink":
		if err := h.linker.HandleUnlinkEvent(ctx, event.ExternalIdentity); err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, gin.H{"unlinked": true})
	}
}

func (h *Handler) IssueHint(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid recipient id", err))
		return
	}

	hint, err := h.linker.IssueHint(c.Request.Context(), recipientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, gin.H{"hint": hint})
}
