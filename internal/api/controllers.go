package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/hoangle/tradeexec/internal/types"
)

type submitIntentRequest struct {
	IntentID   string  `json:"intent_id" binding:"required,min=1"`
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=buy sell BUY SELL"`
	Quantity   string  `json:"quantity" binding:"required"`
	EntryHint  string  `json:"entry_hint"`
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
	Mode       string  `json:"mode" binding:"required,oneof=paper real PAPER REAL"`
	StrategyID string  `json:"strategy_id"`
}

type resolveConfirmationRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

type positionResponse struct {
	ID              string `json:"id"`
	IntentID        string `json:"intent_id"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Mode            string `json:"mode"`
	Status          string `json:"status"`
	Quantity        string `json:"quantity"`
	FilledQty       string `json:"filled_qty"`
	AvgEntryPrice   string `json:"avg_entry_price"`
	StopPrice       string `json:"stop_price,omitempty"`
	TakeProfitPrice string `json:"take_profit_price,omitempty"`
	ExitPrice       string `json:"exit_price,omitempty"`
	ExitReason      string `json:"exit_reason,omitempty"`
	RealizedPL      string `json:"realized_pl"`
	CreatedAt       string `json:"created_at"`
	ClosedAt        string `json:"closed_at,omitempty"`
}

func toPositionResponse(p types.Position) positionResponse {
	r := positionResponse{
		ID:            p.ID,
		IntentID:      p.IntentID,
		Symbol:        p.Symbol,
		Side:          p.Side.String(),
		Mode:          p.Mode.String(),
		Status:        string(p.Status),
		Quantity:      p.Quantity.String(),
		FilledQty:     p.FilledQty.String(),
		AvgEntryPrice: p.AvgEntryPrice.String(),
		ExitReason:    p.ExitReason,
		RealizedPL:    p.RealizedPL.String(),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.StopPrice.IsPositive() {
		r.StopPrice = p.StopPrice.String()
	}
	if p.TakeProfitPrice.IsPositive() {
		r.TakeProfitPrice = p.TakeProfitPrice.String()
	}
	if p.ExitPrice.IsPositive() {
		r.ExitPrice = p.ExitPrice.String()
	}
	if !p.ClosedAt.IsZero() {
		r.ClosedAt = p.ClosedAt.Format(time.RFC3339)
	}
	return r
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondDomainError maps sentinel errors to HTTP statuses.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		respondError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, types.ErrInsufficientCapital):
		respondError(c, http.StatusUnprocessableEntity, "insufficient_capital", err.Error())
	case errors.Is(err, types.ErrExposureLimitExceeded):
		respondError(c, http.StatusUnprocessableEntity, "exposure_limit_exceeded", err.Error())
	case errors.Is(err, types.ErrConfidenceTooLow):
		respondError(c, http.StatusUnprocessableEntity, "confidence_too_low", err.Error())
	case errors.Is(err, types.ErrConfirmationRejected):
		respondError(c, http.StatusConflict, "confirmation_rejected", err.Error())
	case errors.Is(err, types.ErrConfirmationExpired):
		respondError(c, http.StatusConflict, "confirmation_expired", err.Error())
	case errors.Is(err, types.ErrTicketConsumed):
		respondError(c, http.StatusConflict, "ticket_consumed", err.Error())
	case errors.Is(err, types.ErrPositionTerminal):
		respondError(c, http.StatusConflict, "position_terminal", err.Error())
	case errors.Is(err, types.ErrPositionNotFound):
		respondError(c, http.StatusNotFound, "position_not_found", err.Error())
	case errors.Is(err, types.ErrTicketNotFound):
		respondError(c, http.StatusNotFound, "ticket_not_found", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (s *Server) submitIntent(c *gin.Context) {
	var req submitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "quantity must be a decimal number")
		return
	}
	entryHint := decimal.Zero
	if req.EntryHint != "" {
		if entryHint, err = decimal.NewFromString(req.EntryHint); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "entry_hint must be a decimal number")
			return
		}
	}
	side, _ := types.ParseSide(req.Side)
	mode, _ := types.ParseMode(req.Mode)

	intent := types.TradeIntent{
		ID:         req.IntentID,
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   quantity,
		EntryHint:  entryHint,
		Confidence: decimal.NewFromFloat(req.Confidence),
		Mode:       mode,
		StrategyID: req.StrategyID,
		CreatedAt:  time.Now().UTC(),
	}

	positionID, err := s.orch.Accept(c.Request.Context(), intent)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"position_id": positionID})
}

func (s *Server) listPositions(c *gin.Context) {
	positions := s.orch.ActivePositions()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getPosition(c *gin.Context) {
	pos, err := s.orch.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPositionResponse(*pos))
}

func (s *Server) cancelPosition(c *gin.Context) {
	if err := s.orch.CancelPosition(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel_requested"})
}

func (s *Server) getConfirmation(c *gin.Context) {
	ticket, err := s.orch.GetConfirmation(c.Param("ticket"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmationResponse(*ticket))
}

func (s *Server) resolveConfirmation(c *gin.Context) {
	var req resolveConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ticket, err := s.orch.ResolveConfirmation(c.Request.Context(), c.Param("ticket"), *req.Approved)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, confirmationResponse(*ticket))
}

func confirmationResponse(t types.ConfirmationTicket) gin.H {
	return gin.H{
		"ticket_id":  t.ID,
		"intent_id":  t.IntentID,
		"state":      string(t.State),
		"confidence": t.Confidence.String(),
		"expires_at": t.ExpiresAt.Format(time.RFC3339),
	}
}

func (s *Server) getCapital(c *gin.Context) {
	modeParam := c.DefaultQuery("mode", "paper")
	mode, ok := types.ParseMode(modeParam)
	if !ok {
		respondError(c, http.StatusBadRequest, "bad_request", "mode must be 'paper' or 'real'")
		return
	}

	snap := s.orch.Capital(mode)
	c.JSON(http.StatusOK, gin.H{
		"mode":                snap.Mode.String(),
		"available":           snap.Available.String(),
		"reserved":            snap.Reserved.String(),
		"realized_pl":         snap.RealizedPL.String(),
		"open_positions":      snap.OpenPositions,
		"open_real_positions": snap.OpenRealPositions,
	})
}
