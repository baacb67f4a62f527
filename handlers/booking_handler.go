package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"seat-booking/services"
)

type BookingHandler struct {
	app    *pocketbase.PocketBase
	ledger *services.Ledger
}

func NewBookingHandler(app *pocketbase.PocketBase, ledger *services.Ledger) *BookingHandler {
	return &BookingHandler{
		app:    app,
		ledger: ledger,
	}
}

// CreateBooking - convert an active hold into a pending booking. Seats
// and prices come from the server-side hold, never from the client.
func (h *BookingHandler) CreateBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		EventID string `json:"event_id"`
		HoldID  string `json:"hold_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	booking, err := h.ledger.CreatePendingBooking(e.Request.Context(), req.EventID, e.Auth.Id, req.HoldID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"booking_id":     booking.ID,
		"booking_number": booking.BookingNumber,
		"total_price":    booking.TotalPrice,
		"status":         booking.Status,
		"expires_at":     booking.ExpiresAt,
	})
}

// ConfirmBooking - finalize after the payment collaborator reports
// success; paymentRef is opaque here
func (h *BookingHandler) ConfirmBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		BookingID  string `json:"booking_id"`
		PaymentRef string `json:"payment_ref"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	booking, err := h.ledger.Confirm(e.Request.Context(), req.BookingID, req.PaymentRef)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"booking_id":     booking.ID,
		"booking_number": booking.BookingNumber,
		"status":         booking.Status,
		"payment_ref":    booking.PaymentRef,
	})
}

// CancelBooking - pending only; confirmed bookings go through the
// refund flow, not this endpoint
func (h *BookingHandler) CancelBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		BookingID string `json:"booking_id"`
		Reason    string `json:"reason"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	booking, err := h.ledger.Cancel(e.Request.Context(), req.BookingID, req.Reason)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"booking_id": booking.ID,
		"status":     booking.Status,
	})
}

// GetBooking - lookup by internal id or public booking number
func (h *BookingHandler) GetBooking(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	booking, err := h.ledger.GetBooking(e.Request.PathValue("id"))
	if err != nil {
		return apiError(err)
	}

	if booking.UserID != e.Auth.Id {
		return apis.NewNotFoundError("Not found", nil)
	}

	return e.JSON(http.StatusOK, booking)
}
