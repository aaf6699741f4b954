package availability

import (
	"time"

	"bookcal/internal/model"
)

// PatternLength is the number of dots the widget shows per day.
const PatternLength = 5

// BusyLookup supplies the busy windows intersecting [from, to).
type BusyLookup interface {
	BusyBetween(from, to time.Time) []model.TimeWindow
}

// BusyList is a flat busy list.
type BusyList []model.TimeWindow

func (l BusyList) BusyBetween(from, to time.Time) []model.TimeWindow {
	return busyBetween(l, from, to)
}

// BusyByDate indexes busy windows by DateKey. A window spanning several days
// is listed under each of them.
type BusyByDate map[string][]model.TimeWindow

// BusyBetween collects the windows listed under every date touching
// [from, to), each window once.
func (m BusyByDate) BusyBetween(from, to time.Time) []model.TimeWindow {
	out := make([]model.TimeWindow, 0)
	seen := make(map[model.TimeWindow]bool)
	for day := model.StartOfDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		for _, w := range m[model.DateKey(day)] {
			if seen[w] || !w.Overlaps(from, to) {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// IndexByDate builds a BusyByDate in loc. Windows violating Start < End are
// skipped; the merger would reject them anyway.
func IndexByDate(windows []model.TimeWindow, loc *time.Location) BusyByDate {
	if loc == nil {
		loc = time.Local
	}
	idx := make(BusyByDate)
	for _, w := range windows {
		if !w.Start.Before(w.End) {
			continue
		}
		w.Start = w.Start.In(loc)
		w.End = w.End.In(loc)
		for day := model.StartOfDay(w.Start); day.Before(w.End); day = day.AddDate(0, 0, 1) {
			key := model.DateKey(day)
			idx[key] = append(idx[key], w)
		}
	}
	return idx
}

// DayPattern returns the availability of the first PatternLength candidate
// slots. Shorter days give a shorter pattern; it is never padded.
func DayPattern(slots []model.TimeWindow) []bool {
	pattern := make([]bool, 0, PatternLength)
	for _, s := range slots {
		if s.Source != model.SourceManual {
			continue
		}
		if len(pattern) == PatternLength {
			break
		}
		pattern = append(pattern, s.Available)
	}
	return pattern
}

// IsDayBookable reports whether any slot is available.
func IsDayBookable(slots []model.TimeWindow) bool {
	for _, s := range slots {
		if s.Available {
			return true
		}
	}
	return false
}

// ComputeDayAvailability aggregates and merges one day.
func ComputeDayAvailability(date time.Time, hours model.BusinessHours, busy []model.TimeWindow) (model.DayAvailability, error) {
	e := Engine{Hours: hours, Busy: BusyList(busy)}
	return e.Day(date)
}

// NextAvailable scans forward day by day from from's date, inclusive, and
// returns the first available slot not starting before from. ok is false
// when nothing is found within horizonDays days.
func NextAvailable(from time.Time, hours model.BusinessHours, busy BusyLookup, horizonDays int) (model.TimeWindow, bool, error) {
	e := Engine{Hours: hours, Busy: busy}
	return e.NextAvailable(from, horizonDays)
}

// Engine binds business hours and a busy source so the per-day, month and
// next-available queries share the same inputs. The zero Now disables past
// filtering.
type Engine struct {
	Hours model.BusinessHours
	Busy  BusyLookup
	Now   func() time.Time
	// Known, when set, reports whether busy time was fetched for a day.
	// Slots of days it rejects are never available.
	Known func(day time.Time) bool
}

// Day computes the merged slot sequence for date.
func (e Engine) Day(date time.Time) (model.DayAvailability, error) {
	candidates, err := CandidateSlots(e.Hours, date)
	if err != nil {
		return model.DayAvailability{}, err
	}

	var busy []model.TimeWindow
	if e.Busy != nil {
		busy = e.Busy.BusyBetween(DayReach(date, e.Hours))
	}

	slots, err := MergeBusy(candidates, busy, e.Hours)
	if err != nil {
		return model.DayAvailability{}, err
	}
	slots = onDay(slots, date)

	day := model.DayAvailability{
		Date:    model.StartOfDay(date),
		InMonth: true,
	}

	if e.Known != nil && !e.Known(day.Date) {
		for i := range slots {
			slots[i].Available = false
		}
	}

	if e.Now != nil {
		now := e.Now().In(date.Location())
		today := model.StartOfDay(now)
		day.IsToday = day.Date.Equal(today)
		day.IsPast = day.Date.Before(today)
		for i := range slots {
			if slots[i].Source == model.SourceManual && slots[i].Start.Before(now) {
				slots[i].Available = false
			}
		}
	}

	day.Slots = slots
	day.Pattern = DayPattern(slots)
	return day, nil
}

// onDay drops busy entries that only block the day through their buffers.
func onDay(slots []model.TimeWindow, date time.Time) []model.TimeWindow {
	from := model.StartOfDay(date)
	to := from.AddDate(0, 0, 1)
	out := slots[:0]
	for _, s := range slots {
		if s.Source == model.SourceManual || s.Overlaps(from, to) {
			out = append(out, s)
		}
	}
	return out
}

// NextAvailable is the Engine form of the package-level NextAvailable.
func (e Engine) NextAvailable(from time.Time, horizonDays int) (model.TimeWindow, bool, error) {
	if horizonDays <= 0 {
		return model.TimeWindow{}, false, &model.InputError{Field: "horizon", Reason: "horizon must be at least one day"}
	}
	if from.IsZero() {
		return model.TimeWindow{}, false, &model.InputError{Field: "from", Reason: "start date is required"}
	}
	if err := e.Hours.Validate(); err != nil {
		return model.TimeWindow{}, false, err
	}

	first := model.StartOfDay(from)
	for i := 0; i < horizonDays; i++ {
		date := first.AddDate(0, 0, i)
		day, err := e.Day(date)
		if err != nil {
			return model.TimeWindow{}, false, err
		}
		for _, s := range day.Slots {
			if s.Available && !s.Start.Before(from) {
				return s, true, nil
			}
		}
	}
	return model.TimeWindow{}, false, nil
}
