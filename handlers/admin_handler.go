package handlers

import (
	"log"
	"net/http"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"seat-booking/models"
	"seat-booking/services"
	"seat-booking/store"
)

// AdminHandler opens an event for sale: it loads the externally
// authored layout and price list from the database and registers them
// with the engine. The engine never writes these tables back.
type AdminHandler struct {
	app    *pocketbase.PocketBase
	inv    *services.Inventory
	ledger *services.Ledger
	mirror *store.Mirror
}

func NewAdminHandler(app *pocketbase.PocketBase, inv *services.Inventory, ledger *services.Ledger, mirror *store.Mirror) *AdminHandler {
	return &AdminHandler{
		app:    app,
		inv:    inv,
		ledger: ledger,
		mirror: mirror,
	}
}

type eventRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Capacity int    `db:"capacity"`
	Rows     int    `db:"grid_rows"`
	Cols     int    `db:"grid_cols"`
}

type categoryRow struct {
	Category    string  `db:"category"`
	Subcategory string  `db:"subcategory"`
	Price       float64 `db:"price"`
	SeatLimit   int     `db:"seat_limit"`
}

type seatRow struct {
	Row         int    `db:"row"`
	Col         int    `db:"col"`
	Category    string `db:"category"`
	Subcategory string `db:"subcategory"`
}

// OpenEvent - load layout + prices and start selling the event
func (h *AdminHandler) OpenEvent(e *core.RequestEvent) error {
	if e.Auth == nil || !e.Auth.IsSuperuser() {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	eventID := e.Request.PathValue("eventId")
	if eventID == "" {
		return apis.NewBadRequestError("Event ID is required", nil)
	}

	ev := eventRow{}
	err := h.app.DB().
		Select("id", "name", "capacity", "grid_rows", "grid_cols").
		From("events").
		Where(dbx.HashExp{"id": eventID}).
		One(&ev)
	if err != nil {
		return apis.NewNotFoundError("Event not found", err)
	}
	if ev.Rows <= 0 || ev.Cols <= 0 {
		return apis.NewBadRequestError("Event has no seat grid", nil)
	}

	categories := []categoryRow{}
	err = h.app.DB().
		Select("category", "subcategory", "price", "seat_limit").
		From("event_categories").
		Where(dbx.HashExp{"event_id": eventID}).
		All(&categories)
	if err != nil {
		return apis.NewBadRequestError("Failed to fetch price list", err)
	}

	seats := []seatRow{}
	err = h.app.DB().
		Select("row", "col", "category", "subcategory").
		From("seats").
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("row ASC", "col ASC").
		All(&seats)
	if err != nil {
		return apis.NewBadRequestError("Failed to fetch seats", err)
	}

	layout := models.NewVenueLayout(eventID, ev.Rows, ev.Cols)
	for _, s := range seats {
		ref := models.SeatRef{Row: s.Row, Col: s.Col}
		if !layout.InBounds(ref) {
			continue
		}
		cell := layout.Cell(ref)
		cell.CategoryID = s.Category
		cell.SubcategoryID = s.Subcategory
	}

	prices := make([]models.CategoryPrice, len(categories))
	for i, c := range categories {
		prices[i] = models.CategoryPrice{
			CategoryID:    c.Category,
			SubcategoryID: c.Subcategory,
			Price:         decimal.NewFromFloat(c.Price),
			Limit:         c.SeatLimit,
		}
	}

	h.inv.Register(layout)
	h.ledger.RegisterEvent(&models.Event{
		ID:       ev.ID,
		Name:     ev.Name,
		Capacity: ev.Capacity,
		Prices:   prices,
	})

	// Re-mark seats sold before a restart so they cannot be resold.
	restored := 0
	if h.mirror != nil {
		sold, err := h.mirror.SoldSeats(e.Request.Context(), eventID)
		if err != nil {
			log.Printf("admin: reading sold seats for event %s: %v", eventID, err)
		} else if len(sold) > 0 {
			rs := make([]services.RestoredSeat, len(sold))
			for i, s := range sold {
				rs[i] = services.RestoredSeat{
					Seat:       s.Seat,
					ClaimantID: s.ClaimantID,
					BookingID:  s.BookingID,
				}
			}
			if err := h.inv.RestoreBooked(eventID, rs); err != nil {
				log.Printf("admin: restoring sold seats for event %s: %v", eventID, err)
			} else {
				restored = len(rs)
			}
		}
	}

	log.Printf("Event %s opened for sale: %dx%d grid, %d categorized seats, %d restored",
		eventID, ev.Rows, ev.Cols, len(seats), restored)

	return e.JSON(http.StatusOK, map[string]any{
		"event_id":       eventID,
		"rows":           ev.Rows,
		"cols":           ev.Cols,
		"seats":          len(seats),
		"restored_seats": restored,
	})
}
