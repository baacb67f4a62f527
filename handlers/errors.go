package handlers

import (
	"errors"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"

	"seat-booking/internal/status"
)

// apiError translates engine errors into HTTP responses. Blocked
// claims carry the exact blocking seats so the client can re-mark just
// those instead of showing a generic failure.
func apiError(err error) error {
	var claimErr *status.ClaimError
	if errors.As(err, &claimErr) {
		return apis.NewApiError(http.StatusConflict, "Some seats are unavailable", map[string]any{
			"blocked": claimErr.Blocked,
		})
	}

	switch {
	case errors.Is(err, status.ErrNotFound), errors.Is(err, status.ErrHoldNotFound):
		return apis.NewNotFoundError("Not found", err)
	case errors.Is(err, status.ErrValidation):
		return apis.NewBadRequestError("Invalid request", err)
	case errors.Is(err, status.ErrBusy):
		return apis.NewApiError(http.StatusServiceUnavailable, "Busy, retry shortly", nil)
	case errors.Is(err, status.ErrExpired), errors.Is(err, status.ErrHoldExpired):
		return apis.NewApiError(http.StatusGone, "Hold or booking expired, restart seat selection", nil)
	case errors.Is(err, status.ErrNoActiveHold):
		return apis.NewApiError(http.StatusConflict, "No active hold for these seats", nil)
	case errors.Is(err, status.ErrAlreadyConfirmed):
		return apis.NewApiError(http.StatusConflict, "Booking already confirmed", nil)
	case errors.Is(err, status.ErrAlreadyCancelled):
		return apis.NewApiError(http.StatusConflict, "Booking already cancelled", nil)
	case errors.Is(err, status.ErrCapacity):
		return apis.NewApiError(http.StatusConflict, "Event capacity exceeded", nil)
	default:
		return apis.NewBadRequestError("Request failed", err)
	}
}
