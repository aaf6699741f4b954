package model

import (
	"fmt"
	"time"
)

// WindowSource tells where a TimeWindow came from.
type WindowSource string

const (
	// SourceManual marks a candidate slot derived from business hours.
	SourceManual WindowSource = "manual"
	// SourceCalendarEvent marks a busy block pulled from a connected calendar.
	SourceCalendarEvent WindowSource = "calendar-event"
)

// Rank orders sources at equal start time: manual slots sort first.
func (s WindowSource) Rank() int {
	switch s {
	case SourceManual:
		return 0
	case SourceCalendarEvent:
		return 1
	default:
		return 2
	}
}

// TimeWindow is a single half-open interval [Start, End) on the timeline.
// Values returned from the availability engine are never mutated afterwards.
type TimeWindow struct {
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Available bool         `json:"available"`
	Source    WindowSource `json:"source"`

	// Title / Location are only set for calendar events so the widget can
	// show what occupies the time.
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`

	// ConnectionID is the calendar connection that produced a busy window.
	ConnectionID string `json:"connection_id,omitempty"`
}

// Validate checks the Start < End invariant.
func (w TimeWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return &InputError{Field: "window", Reason: "start and end are required"}
	}
	if !w.Start.Before(w.End) {
		return &InputError{
			Field:  "window",
			Reason: fmt.Sprintf("start %s is not before end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)),
		}
	}
	return nil
}

// Overlaps reports whether two half-open intervals intersect.
func (w TimeWindow) Overlaps(start, end time.Time) bool {
	return w.Start.Before(end) && start.Before(w.End)
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	ConnectionID string // calendar connection that produced the event
	UID          string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// DayAvailability is the per-day view consumed by the widget.
type DayAvailability struct {
	Date  time.Time    `json:"date"`
	Slots []TimeWindow `json:"slots"`

	// Pattern holds the availability of at most the first five candidate
	// slots, used for the compact dot indicators.
	Pattern []bool `json:"pattern"`

	InMonth bool `json:"in_month"`
	IsToday bool `json:"is_today"`
	IsPast  bool `json:"is_past"`
}

// Bookable reports whether at least one slot can be booked.
func (d DayAvailability) Bookable() bool {
	for _, s := range d.Slots {
		if s.Available {
			return true
		}
	}
	return false
}

// Candidates returns the business-hours slots, without calendar display entries.
func (d DayAvailability) Candidates() []TimeWindow {
	out := make([]TimeWindow, 0, len(d.Slots))
	for _, s := range d.Slots {
		if s.Source == SourceManual {
			out = append(out, s)
		}
	}
	return out
}

// Morning returns candidate slots starting before noon.
func (d DayAvailability) Morning() []TimeWindow {
	out := make([]TimeWindow, 0)
	for _, s := range d.Candidates() {
		if s.Start.Hour() < 12 {
			out = append(out, s)
		}
	}
	return out
}

// Afternoon returns candidate slots starting at or after noon.
func (d DayAvailability) Afternoon() []TimeWindow {
	out := make([]TimeWindow, 0)
	for _, s := range d.Candidates() {
		if s.Start.Hour() >= 12 {
			out = append(out, s)
		}
	}
	return out
}

// DateKey formats the calendar date of t as used for per-day indexes.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// StartOfDay returns midnight of t's calendar date in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
