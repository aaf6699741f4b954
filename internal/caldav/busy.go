package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"bookcal/internal/model"
)

// calendarBusy turns one calendar object (a VEVENT plus its overridden
// instances) into busy windows intersecting [from, to).
func calendarBusy(cal *ical.Calendar, connectionID string, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	if loc == nil {
		loc = time.Local
	}

	var master *ical.Event
	overrides := make([]ical.Event, 0)
	for _, ev := range cal.Events() {
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			overrides = append(overrides, ev)
			continue
		}
		if master == nil {
			master = &ev
		}
	}

	out := make([]model.TimeWindow, 0)
	if master != nil {
		windows, err := expandMaster(master, overrides, connectionID, from, to, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, windows...)
	}

	for i := range overrides {
		w, ok, err := eventWindow(&overrides[i], connectionID, loc)
		if err != nil {
			return nil, err
		}
		if ok && w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out, nil
}

func expandMaster(ev *ical.Event, overrides []ical.Event, connectionID string, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	base, ok, err := eventWindow(ev, connectionID, loc)
	if err != nil || !ok {
		return nil, err
	}

	set, err := ev.RecurrenceSet(loc)
	if err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}
	if set == nil {
		if base.Overlaps(from, to) {
			return []model.TimeWindow{base}, nil
		}
		return nil, nil
	}

	// Overridden instances are emitted from their own VEVENT.
	for i := range overrides {
		if rid, err := overrides[i].Props.DateTime(ical.PropRecurrenceID, loc); err == nil {
			set.ExDate(rid)
		}
	}

	dur := base.Duration()
	out := make([]model.TimeWindow, 0)
	for _, start := range set.Between(from.Add(-dur), to, true) {
		w := base
		if isAllDay(ev) {
			w.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
			w.End = w.Start.Add(dur)
		} else {
			w.Start = start.In(loc)
			w.End = w.Start.Add(dur)
		}
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out, nil
}

// eventWindow converts a single VEVENT. ok is false for events that do not
// block time: transparent, cancelled or zero length.
func eventWindow(ev *ical.Event, connectionID string, loc *time.Location) (model.TimeWindow, bool, error) {
	if p := ev.Props.Get("TRANSP"); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return model.TimeWindow{}, false, nil
	}
	if p := ev.Props.Get("STATUS"); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return model.TimeWindow{}, false, nil
	}

	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return model.TimeWindow{}, false, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil {
		return model.TimeWindow{}, false, fmt.Errorf("DTEND: %w", err)
	}

	if isAllDay(ev) {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
	} else {
		start, end = start.In(loc), end.In(loc)
	}
	if !start.Before(end) {
		return model.TimeWindow{}, false, nil
	}

	w := model.TimeWindow{
		Start:        start,
		End:          end,
		Source:       model.SourceCalendarEvent,
		ConnectionID: connectionID,
	}
	if p := ev.Props.Get(ical.PropSummary); p != nil {
		w.Title = p.Value
	}
	if p := ev.Props.Get(ical.PropLocation); p != nil {
		w.Location = p.Value
	}
	return w, true, nil
}

func isAllDay(ev *ical.Event) bool {
	prop := ev.Props.Get(ical.PropDateTimeStart)
	if prop == nil {
		return false
	}
	return prop.Params.Get(ical.ParamValue) == string(ical.ValueDate) || !strings.Contains(prop.Value, "T")
}
