package models

import (
	"fmt"
	"time"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatReserved  SeatStatus = "reserved"
	SeatBooked    SeatStatus = "booked"
)

// SeatRef addresses one cell of an event's seat grid.
type SeatRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (r SeatRef) String() string {
	return fmt.Sprintf("%d:%d", r.Row, r.Col)
}

// Less orders seats canonically by (row, col). Batch operations
// validate and apply in this order so overlapping batches cannot
// deadlock against each other.
func (r SeatRef) Less(o SeatRef) bool {
	if r.Row != o.Row {
		return r.Row < o.Row
	}
	return r.Col < o.Col
}

type SeatCell struct {
	CategoryID    string     `json:"category_id"`
	SubcategoryID string     `json:"subcategory_id,omitempty"`
	Status        SeatStatus `json:"status"`
	ClaimantID    string     `json:"claimant_id,omitempty"`
	BookingID     string     `json:"booking_id,omitempty"`
	// ExpiresAt is set while the seat is held or reserved; a past
	// value means the claim is stale and the seat is claimable again.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Version   uint64     `json:"version"`
}

// Stale reports whether a held or reserved claim has outlived its
// TTL. A stale cell counts as available to new claimants.
func (c *SeatCell) Stale(now time.Time) bool {
	return (c.Status == SeatHeld || c.Status == SeatReserved) &&
		c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// VenueLayout is the per-event seat grid. It is authored externally;
// the engine only ever mutates cell status fields.
type VenueLayout struct {
	EventID string       `json:"event_id"`
	Rows    int          `json:"rows"`
	Cols    int          `json:"cols"`
	Cells   [][]SeatCell `json:"cells"`
}

// NewVenueLayout allocates an empty rows x cols grid. Cells without a
// category are not sellable until the admin tool assigns one.
func NewVenueLayout(eventID string, rows, cols int) *VenueLayout {
	cells := make([][]SeatCell, rows)
	for r := range cells {
		cells[r] = make([]SeatCell, cols)
		for c := range cells[r] {
			cells[r][c].Status = SeatAvailable
		}
	}
	return &VenueLayout{
		EventID: eventID,
		Rows:    rows,
		Cols:    cols,
		Cells:   cells,
	}
}

func (l *VenueLayout) InBounds(ref SeatRef) bool {
	return ref.Row >= 0 && ref.Row < l.Rows && ref.Col >= 0 && ref.Col < l.Cols
}

func (l *VenueLayout) Cell(ref SeatRef) *SeatCell {
	return &l.Cells[ref.Row][ref.Col]
}
