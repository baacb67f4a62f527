package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"seat-booking/models"
	"seat-booking/realtime"
	"seat-booking/services"
)

type SeatHandler struct {
	app      *pocketbase.PocketBase
	inv      *services.Inventory
	notifier realtime.Notifier
}

func NewSeatHandler(app *pocketbase.PocketBase, inv *services.Inventory, notifier realtime.Notifier) *SeatHandler {
	return &SeatHandler{
		app:      app,
		inv:      inv,
		notifier: notifier,
	}
}

// GetSeatGrid - full matrix with statuses, the reconciliation source
// for realtime viewers
func (h *SeatHandler) GetSeatGrid(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	grid, err := h.inv.Grid(eventID)
	if err != nil {
		return apiError(err)
	}

	counts, err := h.inv.StatusCounts(eventID)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":        grid.EventID,
		"rows":            grid.Rows,
		"cols":            grid.Cols,
		"cells":           grid.Cells,
		"total_seats":     grid.Rows * grid.Cols,
		"available_seats": counts[models.SeatAvailable],
		"booked_seats":    counts[models.SeatBooked],
	})
}

// GetSeat - single cell lookup
func (h *SeatHandler) GetSeat(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	var ref models.SeatRef
	if _, err := fmt.Sscanf(e.Request.PathValue("seat"), "%d-%d", &ref.Row, &ref.Col); err != nil {
		return apis.NewBadRequestError("Seat must be row-col", err)
	}

	cell, err := h.inv.GetSeat(eventID, ref)
	if err != nil {
		return apiError(err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"seat": ref,
		"cell": cell,
	})
}

// StreamSeatEvents - per-event SSE push of seat-state changes for live
// grid updates. Best-effort: clients refetch the grid on reconnect.
func (h *SeatHandler) StreamSeatEvents(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	if _, err := h.inv.Grid(eventID); err != nil {
		return apiError(err)
	}

	flusher, ok := e.Response.(http.Flusher)
	if !ok {
		return apis.NewApiError(http.StatusInternalServerError, "Streaming unsupported", nil)
	}

	e.Response.Header().Set("Content-Type", "text/event-stream")
	e.Response.Header().Set("Cache-Control", "no-cache")
	e.Response.Header().Set("Connection", "keep-alive")
	e.Response.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.notifier.Subscribe(eventID)
	defer sub.Unsubscribe()

	ctx := e.Request.Context()
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(e.Response, "event: seat\ndata: %s\n\n", payload); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
