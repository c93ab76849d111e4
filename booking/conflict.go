/*
conflict.go - Time-conflict detection shared by creation and reschedule approval

PREDICATE:
  Two bookings for the same mentor conflict when

    newStart < existing.End + buffer  AND  newEnd + buffer > existing.Start

  evaluated only against bookings whose status still blocks the calendar
  (PendingPayment, Confirmed). Terminal bookings never conflict.

BUFFER RESOLUTION:
  offering's dedicated template (if present and still existing)
    -> mentor's default template
    -> hard-coded fallback (schedule.DefaultBufferMinutes)
  Resolution lives in schedule.Inventory.ResolveBuffer; this file only
  applies the predicate.
*/
package booking

import (
	"context"
	"time"

	"github.com/mentorhive/booking-engine/core"
)

// Overlaps applies the buffered interval predicate against one booking.
func Overlaps(start, end time.Time, buffer time.Duration, existing Booking) bool {
	return start.Before(existing.EndAt.Add(buffer)) && end.Add(buffer).After(existing.StartAt)
}

// findConflict re-reads the mentor's blocking bookings around [start, end)
// and returns the first one the predicate trips on, excluding the booking
// being mutated. Always evaluated against current state, never a cached set.
func (s *Service) findConflict(ctx context.Context, mentor core.UserID, start, end time.Time, buffer time.Duration, exclude core.BookingID) (*Booking, error) {
	// Pad the scan window by the buffer so adjacent bookings are visible.
	others, err := s.Bookings.BlockingByMentor(ctx, mentor, start.Add(-buffer), end.Add(buffer))
	if err != nil {
		return nil, err
	}
	for i := range others {
		if others[i].ID == exclude {
			continue
		}
		if Overlaps(start, end, buffer, others[i]) {
			return &others[i], nil
		}
	}
	return nil, nil
}
