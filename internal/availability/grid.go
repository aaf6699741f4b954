package availability

import (
	"time"

	"bookcal/internal/model"
)

// MonthRange returns the first cell and the exclusive end of the grid shown
// for month. The grid always covers whole weeks starting on weekStart.
func MonthRange(month time.Time, weekStart time.Weekday) (time.Time, time.Time) {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	last := first.AddDate(0, 1, -1)

	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	trail := (int(weekStart) + 6 - int(last.Weekday()) + 7) % 7

	return first.AddDate(0, 0, -lead), last.AddDate(0, 0, trail+1)
}

// BuildMonthGrid expands month into day cells, leading and trailing days of
// adjacent months included with InMonth=false.
func BuildMonthGrid(month, today time.Time, weekStart time.Weekday, hours model.BusinessHours, busy BusyLookup) ([]model.DayAvailability, error) {
	e := Engine{Hours: hours, Busy: busy}
	cells, err := e.Month(month, weekStart)
	if err != nil {
		return nil, err
	}
	todayKey := model.DateKey(today.In(month.Location()))
	for i := range cells {
		cells[i].IsToday = model.DateKey(cells[i].Date) == todayKey
	}
	return cells, nil
}

// Month builds the grid using the engine's busy source and clock.
func (e Engine) Month(month time.Time, weekStart time.Weekday) ([]model.DayAvailability, error) {
	if month.IsZero() {
		return nil, &model.InputError{Field: "month", Reason: "month is required"}
	}
	if err := e.Hours.Validate(); err != nil {
		return nil, err
	}

	from, to := MonthRange(month, weekStart)
	cells := make([]model.DayAvailability, 0, 42)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		day, err := e.Day(d)
		if err != nil {
			return nil, err
		}
		day.InMonth = d.Month() == month.Month()
		cells = append(cells, day)
	}
	return cells, nil
}
