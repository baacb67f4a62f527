package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"seat-booking/models"
)

// Mirror keeps a best-effort copy of seat and booking state in Redis
// so dashboards and sibling instances can read it without touching the
// engine. It is derived data, never the source of truth.
type Mirror struct {
	Redis *redis.Client
}

func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{Redis: client}
}

func seatKey(eventID string, ref models.SeatRef) string {
	return fmt.Sprintf("seat:%s:%d:%d", eventID, ref.Row, ref.Col)
}

func soldKey(eventID string) string {
	return fmt.Sprintf("sold:%s", eventID)
}

func bookingKey(id string) string {
	return fmt.Sprintf("booking:%s", id)
}

func bookingNumKey(number string) string {
	return fmt.Sprintf("bookingnum:%s", number)
}

// SaveSeats mirrors a batch of cells after a transition. Held and
// reserved keys expire shortly after the claim itself would, available
// seats are dropped entirely, booked seats persist.
func (m *Mirror) SaveSeats(ctx context.Context, eventID string, seats []models.SeatRef, cells []models.SeatCell) error {
	for i, ref := range seats {
		cell := cells[i]
		key := seatKey(eventID, ref)

		switch cell.Status {
		case models.SeatAvailable:
			if err := m.Redis.Del(ctx, key).Err(); err != nil {
				return err
			}
			if err := m.Redis.SRem(ctx, soldKey(eventID), ref.String()).Err(); err != nil {
				return err
			}
		case models.SeatBooked:
			if err := m.Redis.HSet(ctx, key,
				"status", string(cell.Status),
				"claimant_id", cell.ClaimantID,
				"booking_id", cell.BookingID,
			).Err(); err != nil {
				return err
			}
			if err := m.Redis.Persist(ctx, key).Err(); err != nil {
				return err
			}
			if err := m.Redis.SAdd(ctx, soldKey(eventID), ref.String()).Err(); err != nil {
				return err
			}
		default: // held, reserved
			expiresAt := int64(0)
			if cell.ExpiresAt != nil {
				expiresAt = cell.ExpiresAt.Unix()
			}
			if err := m.Redis.HSet(ctx, key,
				"status", string(cell.Status),
				"claimant_id", cell.ClaimantID,
				"booking_id", cell.BookingID,
				"expires_at", expiresAt,
			).Err(); err != nil {
				return err
			}
			if cell.ExpiresAt != nil {
				// Keep the key a minute past the claim so a lagging
				// sweep still sees who owned it.
				ttl := time.Until(cell.ExpiresAt.Add(time.Minute))
				if ttl > 0 {
					if err := m.Redis.Expire(ctx, key, ttl).Err(); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

// SaveBooking mirrors the booking record and its public-number index.
func (m *Mirror) SaveBooking(ctx context.Context, b *models.Booking) error {
	expiresAt := int64(0)
	if b.ExpiresAt != nil {
		expiresAt = b.ExpiresAt.Unix()
	}

	if err := m.Redis.HSet(ctx, bookingKey(b.ID),
		"event_id", b.EventID,
		"user_id", b.UserID,
		"status", string(b.Status),
		"booking_number", b.BookingNumber,
		"total_price", b.TotalPrice.String(),
		"payment_ref", b.PaymentRef,
		"seat_count", len(b.Seats),
		"expires_at", expiresAt,
	).Err(); err != nil {
		return err
	}

	return m.Redis.Set(ctx, bookingNumKey(b.BookingNumber), b.ID, 0).Err()
}

// SoldSeat is a booked cell recovered from the mirror at boot.
type SoldSeat struct {
	Seat       models.SeatRef
	ClaimantID string
	BookingID  string
}

// SoldSeats reads back the booked seats of an event so a restarted
// instance can re-mark them before selling resumes.
func (m *Mirror) SoldSeats(ctx context.Context, eventID string) ([]SoldSeat, error) {
	members, err := m.Redis.SMembers(ctx, soldKey(eventID)).Result()
	if err != nil {
		return nil, err
	}

	sold := make([]SoldSeat, 0, len(members))
	for _, member := range members {
		parts := strings.SplitN(member, ":", 2)
		if len(parts) != 2 {
			continue
		}
		row, err1 := strconv.Atoi(parts[0])
		col, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}

		ref := models.SeatRef{Row: row, Col: col}
		fields, err := m.Redis.HGetAll(ctx, seatKey(eventID, ref)).Result()
		if err != nil {
			return nil, err
		}

		sold = append(sold, SoldSeat{
			Seat:       ref,
			ClaimantID: fields["claimant_id"],
			BookingID:  fields["booking_id"],
		})
	}

	return sold, nil
}
