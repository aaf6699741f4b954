// Package availability derives bookable slots from business hours and busy
// calendar events. Everything in here is a pure function of its inputs: no
// I/O, no shared state, safe to call concurrently for different dates.
package availability

import (
	"time"

	"bookcal/internal/model"
)

// CandidateSlots slices the business hours of date's calendar day into
// consecutive slots of hours.Step(), all initially available.
//
// The time of day carried by date is ignored. A non-working weekday yields an
// empty, non-nil slice. When the opening span is not a multiple of the step,
// the final slot is shortened so the sequence always ends exactly at
// hours.End.
func CandidateSlots(hours model.BusinessHours, date time.Time) ([]model.TimeWindow, error) {
	if err := hours.Validate(); err != nil {
		return nil, err
	}
	if date.IsZero() {
		return nil, &model.InputError{Field: "date", Reason: "date is required"}
	}

	slots := make([]model.TimeWindow, 0)
	if !hours.WorksOn(date.Weekday()) {
		return slots, nil
	}

	step := hours.Step()
	open := hours.Start.On(date)
	closeAt := hours.End.On(date)

	for cur := open; cur.Before(closeAt); {
		next := cur.Add(step)
		if next.After(closeAt) {
			next = closeAt
		}
		slots = append(slots, model.TimeWindow{
			Start:     cur,
			End:       next,
			Available: true,
			Source:    model.SourceManual,
		})
		cur = next
	}

	return slots, nil
}
