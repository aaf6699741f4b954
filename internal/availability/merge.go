package availability

import (
	"slices"
	"time"

	"bookcal/internal/model"
)

// MergeBusy marks every candidate slot that overlaps a padded busy window as
// unavailable and inserts the busy windows themselves as display entries.
//
// Busy windows are padded to [Start-BufferBefore, End+BufferAfter) before the
// half-open overlap test. A busy window touching two slots blocks both; slots
// are never split. The result is sorted by start, manual before calendar
// event at equal start. Neither input slice is modified.
func MergeBusy(candidates, busy []model.TimeWindow, hours model.BusinessHours) ([]model.TimeWindow, error) {
	for _, b := range busy {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	out := make([]model.TimeWindow, 0, len(candidates)+len(busy))
	for _, slot := range candidates {
		if slot.Available && blockedBy(slot, busy, hours.BufferBefore, hours.BufferAfter) {
			slot.Available = false
		}
		out = append(out, slot)
	}

	for _, b := range busy {
		b.Available = false
		b.Source = model.SourceCalendarEvent
		out = append(out, b)
	}

	sortWindows(out)
	return out, nil
}

// MergeProviders flattens provider-tagged busy results and merges them.
func MergeProviders(candidates []model.TimeWindow, busy []model.ProviderBusy, hours model.BusinessHours) ([]model.TimeWindow, error) {
	return MergeBusy(candidates, Flatten(busy), hours)
}

// Flatten concatenates the intervals of every provider result, tagging each
// window with its connection when the fetcher did not already do so.
func Flatten(busy []model.ProviderBusy) []model.TimeWindow {
	n := 0
	for _, pb := range busy {
		n += len(pb.Intervals)
	}
	out := make([]model.TimeWindow, 0, n)
	for _, pb := range busy {
		for _, w := range pb.Intervals {
			if w.ConnectionID == "" {
				w.ConnectionID = pb.ConnectionID
			}
			out = append(out, w)
		}
	}
	return out
}

// BusyForDay keeps the busy windows whose padded interval reaches into day's
// calendar date, so an event just before midnight still blocks the first
// slot of the next day when its buffer spills over.
func BusyForDay(all []model.TimeWindow, day time.Time, hours model.BusinessHours) []model.TimeWindow {
	from, to := DayReach(day, hours)
	return busyBetween(all, from, to)
}

// DayReach is the span of raw busy time that can affect day once padded:
// [midnight-BufferAfter, next midnight+BufferBefore).
func DayReach(day time.Time, hours model.BusinessHours) (time.Time, time.Time) {
	from := model.StartOfDay(day)
	return from.Add(-hours.BufferAfter), from.AddDate(0, 0, 1).Add(hours.BufferBefore)
}

func busyBetween(all []model.TimeWindow, from, to time.Time) []model.TimeWindow {
	out := make([]model.TimeWindow, 0)
	for _, w := range all {
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out
}

func blockedBy(slot model.TimeWindow, busy []model.TimeWindow, before, after time.Duration) bool {
	for _, b := range busy {
		if slot.Overlaps(b.Start.Add(-before), b.End.Add(after)) {
			return true
		}
	}
	return false
}

func sortWindows(ws []model.TimeWindow) {
	slices.SortStableFunc(ws, func(a, b model.TimeWindow) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if ra, rb := a.Source.Rank(), b.Source.Rank(); ra != rb {
			return ra - rb
		}
		return a.End.Compare(b.End)
	})
}
