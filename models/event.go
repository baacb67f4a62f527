package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryPrice is one row of an event's fixed price list. Limit is an
// optional cap on seats sold in the category (0 = no cap beyond the
// physical grid).
type CategoryPrice struct {
	CategoryID    string          `json:"category_id"`
	SubcategoryID string          `json:"subcategory_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Limit         int             `json:"limit,omitempty"`
}

// Event carries the read-mostly inputs the engine needs: capacity for
// overselling checks and the price list for server-side totals.
type Event struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Capacity    int             `json:"capacity"`
	TicketsSold int             `json:"tickets_sold"`
	Prices      []CategoryPrice `json:"prices"`
	StartTime   time.Time       `json:"start_time"`
}

// PriceFor resolves the price for a category/subcategory pair. An
// entry with a matching subcategory wins over the bare category entry.
func (e *Event) PriceFor(categoryID, subcategoryID string) (decimal.Decimal, bool) {
	var base *CategoryPrice
	for i := range e.Prices {
		p := &e.Prices[i]
		if p.CategoryID != categoryID {
			continue
		}
		if p.SubcategoryID == subcategoryID {
			return p.Price, true
		}
		if p.SubcategoryID == "" {
			base = p
		}
	}
	if base != nil {
		return base.Price, true
	}
	return decimal.Decimal{}, false
}

// LimitFor returns the category seat cap, or 0 when uncapped.
func (e *Event) LimitFor(categoryID string) int {
	for i := range e.Prices {
		if e.Prices[i].CategoryID == categoryID && e.Prices[i].SubcategoryID == "" {
			return e.Prices[i].Limit
		}
	}
	return 0
}
