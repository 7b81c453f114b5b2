package billing

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/dorm-notify/internal/billing"
	"github.com/jwalitptl/dorm-notify/internal/model"
	"github.com/jwalitptl/dorm-notify/internal/service/pipeline"
	apperrors "github.com/jwalitptl/dorm-notify/pkg/errors"
	"github.com/jwalitptl/dorm-notify/pkg/httputil"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

// Handler is the bill issuance edge: it computes the charge breakdown and
// hands the bill-ready notification to the pipeline in one call.
type Handler struct {
	svc    *pipeline.Service
	logger *logger.Logger
}

func NewHandler(svc *pipeline.Service, logger *logger.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bills", h.IssueBill)
}

type meterInput struct {
	Name  string `json:"name" binding:"required"`
	Usage int64  `json:"usage"`
	Rate  int64  `json:"rate"`
}

type issueBillRequest struct {
	RecipientID uuid.UUID    `json:"recipient_id" binding:"required"`
	Period      string       `json:"period" binding:"required"`
	BaseAmount  int64        `json:"base_amount"`
	Meters      []meterInput `json:"meters" binding:"dive"`
}

type billReadyPayload struct {
	Period     string           `json:"period"`
	BaseAmount int64            `json:"base_amount"`
	MeterCosts map[string]int64 `json:"meter_costs"`
	Total      int64            `json:"total"`
}

// IssueBill computes the total for one billing period and submits the
// bill-ready intent. The period doubles as the idempotency key, so an
// accounting job that reruns cannot bill a recipient twice for the
// same period.
func (h *Handler) IssueBill(c *gin.Context) {
	var req issueBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.NewBadRequest("invalid bill request", err))
		return
	}

	meters := make([]model.MeterReading, len(req.Meters))
	for i, m := range req.Meters {
		meters[i] = model.MeterReading{Name: m.Name, Usage: m.Usage, Rate: m.Rate}
	}

	charge, err := billing.CalculateTotal(req.BaseAmount, meters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	payload, err := json.Marshal(billReadyPayload{
		Period:     req.Period,
		BaseAmount: charge.BaseAmount,
		MeterCosts: charge.MeterCosts,
		Total:      charge.Total,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	key := fmt.Sprintf("bill:%s:%s", req.RecipientID, req.Period)
	intentID, err := h.svc.SubmitIdempotent(c.Request.Context(), req.RecipientID, model.KindBillReady, payload, key)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	h.logger.Info("bill issued",
		"recipient_id", req.RecipientID.String(),
		"period", req.Period,
		"total", charge.Total)

	httputil.RespondWithCreated(c, gin.H{
		"intent_id": intentID,
		"charge":    charge,
	})
}
