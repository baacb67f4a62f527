package handlers

import (
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"seat-booking/models"
	"seat-booking/security"
	"seat-booking/services"
)

type HoldHandler struct {
	app     *pocketbase.PocketBase
	holds   *services.HoldManager
	limiter *security.RateLimiter
}

func NewHoldHandler(app *pocketbase.PocketBase, holds *services.HoldManager, limiter *security.RateLimiter) *HoldHandler {
	return &HoldHandler{
		app:     app,
		holds:   holds,
		limiter: limiter,
	}
}

// CreateHold - claim a batch of seats for interactive selection
func (h *HoldHandler) CreateHold(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID    string           `json:"event_id"`
		Seats      []models.SeatRef `json:"seats"`
		TTLSeconds int              `json:"ttl_seconds"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || len(req.Seats) == 0 {
		return apis.NewBadRequestError("event_id and seats are required", nil)
	}

	ctx := e.Request.Context()
	claimantID := e.Auth.Id

	if h.limiter != nil && !h.limiter.Allow(ctx, claimantID) {
		return apis.NewApiError(http.StatusTooManyRequests, "Too many hold attempts, slow down", nil)
	}

	hold, err := h.holds.Hold(ctx, req.EventID, req.Seats, claimantID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt,
		"seats":      hold.Seats,
	})
}

// ReleaseHold - give held seats back before the TTL runs out
func (h *HoldHandler) ReleaseHold(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		HoldID string `json:"hold_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	if err := h.holds.Release(e.Request.Context(), req.HoldID, e.Auth.Id); err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{"released": true})
}
