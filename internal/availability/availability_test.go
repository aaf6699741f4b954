package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcal/internal/model"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func officeHours(step time.Duration) model.BusinessHours {
	return model.BusinessHours{
		WorkingDays: weekdays,
		Start:       model.MustClock("09:00"),
		End:         model.MustClock("17:00"),
		SlotLength:  step,
	}
}

// 2026-01-05 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 1, day, hour, minute, 0, 0, time.UTC)
}

func busyWindow(start, end time.Time) model.TimeWindow {
	return model.TimeWindow{Start: start, End: end, Source: model.SourceCalendarEvent, Title: "meeting"}
}

func TestCandidateSlots_SpansBusinessHours(t *testing.T) {
	for _, step := range []time.Duration{15 * time.Minute, 30 * time.Minute, 45 * time.Minute, time.Hour} {
		slots, err := CandidateSlots(officeHours(step), at(5, 13, 27))
		require.NoError(t, err)
		require.NotEmpty(t, slots)

		assert.Equal(t, at(5, 9, 0), slots[0].Start, "step %s", step)
		assert.Equal(t, at(5, 17, 0), slots[len(slots)-1].End, "step %s", step)
		for i, s := range slots {
			assert.True(t, s.Available)
			assert.Equal(t, model.SourceManual, s.Source)
			assert.True(t, s.Start.Before(s.End))
			if i > 0 {
				assert.Equal(t, slots[i-1].End, s.Start)
			}
		}
	}
}

func TestCandidateSlots_ShortensLastSlot(t *testing.T) {
	hours := officeHours(45 * time.Minute)
	slots, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)
	// 8h / 45m = 10 full slots + 30m remainder.
	require.Len(t, slots, 11)
	assert.Equal(t, 30*time.Minute, slots[10].Duration())
}

func TestCandidateSlots_NonWorkingDay(t *testing.T) {
	for day := 10; day <= 11; day++ {
		slots, err := CandidateSlots(officeHours(time.Hour), at(day, 9, 0))
		require.NoError(t, err)
		assert.NotNil(t, slots)
		assert.Empty(t, slots)
	}
}

func TestCandidateSlots_ConfigurationErrors(t *testing.T) {
	cases := map[string]model.BusinessHours{
		"start equals end": {WorkingDays: weekdays, Start: model.MustClock("09:00"), End: model.MustClock("09:00")},
		"start after end":  {WorkingDays: weekdays, Start: model.MustClock("18:00"), End: model.MustClock("09:00")},
		"no working days":  {Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
		"weekday range":    {WorkingDays: []time.Weekday{7}, Start: model.MustClock("09:00"), End: model.MustClock("17:00")},
		"negative buffer":  {WorkingDays: weekdays, Start: model.MustClock("09:00"), End: model.MustClock("17:00"), BufferAfter: -time.Minute},
	}
	for name, hours := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := CandidateSlots(hours, at(5, 0, 0))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfiguration))
			var cfgErr *model.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestCandidateSlots_MidnightClose(t *testing.T) {
	hours := model.BusinessHours{
		WorkingDays: weekdays,
		Start:       model.MustClock("22:00"),
		End:         model.MustClock("24:00"),
		SlotLength:  time.Hour,
	}
	slots, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, at(6, 0, 0), slots[1].End)
}

func TestMergeBusy_EmptyIsNoop(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	merged, err := MergeBusy(candidates, nil, hours)
	require.NoError(t, err)
	assert.Equal(t, candidates, merged)
}

func TestMergeBusy_OneHourMeeting(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)
	require.Len(t, candidates, 8)

	merged, err := MergeBusy(candidates, []model.TimeWindow{busyWindow(at(5, 10, 0), at(5, 11, 0))}, hours)
	require.NoError(t, err)

	day := model.DayAvailability{Slots: merged}
	slots := day.Candidates()
	require.Len(t, slots, 8)
	for _, s := range slots {
		if s.Start.Equal(at(5, 10, 0)) {
			assert.False(t, s.Available)
		} else {
			assert.True(t, s.Available, "slot %s", s.Start)
		}
	}

	// The busy block follows the 10:00 manual slot it shares a start with.
	require.Len(t, merged, 9)
	assert.Equal(t, model.SourceManual, merged[1].Source)
	assert.Equal(t, model.SourceCalendarEvent, merged[2].Source)
	assert.Equal(t, "meeting", merged[2].Title)
	assert.False(t, merged[2].Available)
}

func TestMergeBusy_PartialOverlapBlocksBothSlots(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	merged, err := MergeBusy(candidates, []model.TimeWindow{busyWindow(at(5, 9, 30), at(5, 10, 30))}, hours)
	require.NoError(t, err)

	slots := model.DayAvailability{Slots: merged}.Candidates()
	assert.False(t, slots[0].Available)
	assert.False(t, slots[1].Available)
	assert.True(t, slots[2].Available)
}

func TestMergeBusy_HalfOpenBoundaries(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	// Ends exactly when 10:00 starts; only 09:00 is blocked.
	merged, err := MergeBusy(candidates, []model.TimeWindow{busyWindow(at(5, 8, 0), at(5, 10, 0))}, hours)
	require.NoError(t, err)

	slots := model.DayAvailability{Slots: merged}.Candidates()
	assert.False(t, slots[0].Available)
	assert.True(t, slots[1].Available)
}

func TestMergeBusy_OverlapProperty(t *testing.T) {
	hours := officeHours(30 * time.Minute)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	for startMin := 8 * 60; startMin < 18*60; startMin += 10 {
		for length := 5; length <= 120; length += 25 {
			b := busyWindow(at(5, 0, startMin), at(5, 0, startMin+length))
			merged, err := MergeBusy(candidates, []model.TimeWindow{b}, hours)
			require.NoError(t, err)

			got := model.DayAvailability{Slots: merged}.Candidates()
			require.Len(t, got, len(candidates))
			for i, s := range got {
				overlaps := s.Start.Before(b.End) && b.Start.Before(s.End)
				assert.Equal(t, !overlaps && candidates[i].Available, s.Available)
			}
		}
	}
}

func TestMergeBusy_BuffersPadBusyWindow(t *testing.T) {
	hours := officeHours(time.Hour)
	hours.BufferBefore = 15 * time.Minute
	hours.BufferAfter = 15 * time.Minute
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	merged, err := MergeBusy(candidates, []model.TimeWindow{busyWindow(at(5, 11, 0), at(5, 12, 0))}, hours)
	require.NoError(t, err)

	slots := model.DayAvailability{Slots: merged}.Candidates()
	assert.True(t, slots[0].Available)  // 09
	assert.False(t, slots[1].Available) // 10, buffer before
	assert.False(t, slots[2].Available) // 11
	assert.False(t, slots[3].Available) // 12, buffer after
	assert.True(t, slots[4].Available)  // 13

	// Display entry keeps the unpadded times.
	for _, s := range merged {
		if s.Source == model.SourceCalendarEvent {
			assert.Equal(t, at(5, 11, 0), s.Start)
			assert.Equal(t, at(5, 12, 0), s.End)
		}
	}
}

func TestMergeBusy_RejectsInvertedEvent(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	_, err = MergeBusy(candidates, []model.TimeWindow{busyWindow(at(5, 11, 0), at(5, 10, 0))}, hours)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInput))
}

func TestMergeBusy_DoesNotMutateInput(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)
	busy := []model.TimeWindow{{Start: at(5, 9, 0), End: at(5, 17, 0), Available: true}}

	_, err = MergeBusy(candidates, busy, hours)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.True(t, c.Available)
	}
	assert.True(t, busy[0].Available)
	assert.Empty(t, busy[0].Source)
}

func TestMergeProviders_TagsConnection(t *testing.T) {
	hours := officeHours(time.Hour)
	candidates, err := CandidateSlots(hours, at(5, 0, 0))
	require.NoError(t, err)

	merged, err := MergeProviders(candidates, []model.ProviderBusy{
		{Provider: model.ProviderGoogle, ConnectionID: "work", Intervals: []model.TimeWindow{busyWindow(at(5, 9, 0), at(5, 10, 0))}},
		{Provider: model.ProviderApple, ConnectionID: "home", Intervals: []model.TimeWindow{busyWindow(at(5, 16, 0), at(5, 17, 0))}},
	}, hours)
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, s := range merged {
		if s.Source == model.SourceCalendarEvent {
			ids = append(ids, s.ConnectionID)
		}
	}
	assert.Equal(t, []string{"work", "home"}, ids)
	assert.False(t, IsDayBookable(merged[:1]))
}

func TestComputeDayAvailability_Saturday(t *testing.T) {
	day, err := ComputeDayAvailability(at(10, 0, 0), officeHours(time.Hour), nil)
	require.NoError(t, err)
	assert.Empty(t, day.Slots)
	assert.False(t, day.Bookable())
	assert.False(t, IsDayBookable(day.Slots))
	assert.Empty(t, day.Pattern)
}

func TestComputeDayAvailability_FiltersBusyToDay(t *testing.T) {
	busy := []model.TimeWindow{
		busyWindow(at(5, 10, 0), at(5, 11, 0)),
		busyWindow(at(6, 9, 0), at(6, 17, 0)),
	}
	day, err := ComputeDayAvailability(at(5, 0, 0), officeHours(time.Hour), busy)
	require.NoError(t, err)
	assert.Len(t, day.Slots, 9)
	assert.Equal(t, []bool{true, false, true, true, true}, day.Pattern)

	blocked, err := ComputeDayAvailability(at(6, 0, 0), officeHours(time.Hour), busy)
	require.NoError(t, err)
	assert.False(t, blocked.Bookable())
	assert.Equal(t, []bool{false, false, false, false, false}, blocked.Pattern)
}

func TestDayPattern_Length(t *testing.T) {
	for _, step := range []time.Duration{15 * time.Minute, time.Hour, 3 * time.Hour, 8 * time.Hour} {
		slots, err := CandidateSlots(officeHours(step), at(5, 0, 0))
		require.NoError(t, err)
		pattern := DayPattern(slots)
		assert.LessOrEqual(t, len(pattern), PatternLength)
		if len(slots) < PatternLength {
			assert.Len(t, pattern, len(slots))
		}
	}
	assert.Empty(t, DayPattern(nil))
}

func TestDay_MorningAfternoon(t *testing.T) {
	day, err := ComputeDayAvailability(at(5, 0, 0), officeHours(time.Hour), nil)
	require.NoError(t, err)
	assert.Len(t, day.Morning(), 3)
	assert.Len(t, day.Afternoon(), 5)
}

func TestEngine_PastSlotsUnavailable(t *testing.T) {
	e := Engine{
		Hours: officeHours(time.Hour),
		Now:   func() time.Time { return at(5, 12, 30) },
	}
	day, err := e.Day(at(5, 0, 0))
	require.NoError(t, err)
	assert.True(t, day.IsToday)
	assert.False(t, day.IsPast)
	assert.Equal(t, []bool{false, false, false, false, true}, day.Pattern)

	yesterday, err := e.Day(at(2, 0, 0))
	require.NoError(t, err)
	assert.True(t, yesterday.IsPast)
	assert.False(t, yesterday.Bookable())
}

func TestNextAvailable(t *testing.T) {
	hours := officeHours(time.Hour)
	busy := BusyList{
		busyWindow(at(9, 9, 0), at(9, 17, 0)),
		busyWindow(at(12, 9, 0), at(12, 11, 0)),
	}

	t.Run("same day later slot", func(t *testing.T) {
		slot, ok, err := NextAvailable(at(5, 10, 15), hours, busy, 30)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, at(5, 11, 0), slot.Start)
	})

	t.Run("skips weekend and busy friday", func(t *testing.T) {
		slot, ok, err := NextAvailable(at(9, 8, 0), hours, busy, 30)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, at(12, 11, 0), slot.Start)
	})

	t.Run("horizon exhausted", func(t *testing.T) {
		_, ok, err := NextAvailable(at(9, 8, 0), hours, busy, 3)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid horizon", func(t *testing.T) {
		_, _, err := NextAvailable(at(5, 0, 0), hours, busy, 0)
		assert.True(t, errors.Is(err, model.ErrInput))
	})
}

type closedEveryDay struct{}

func (closedEveryDay) BusyBetween(from, to time.Time) []model.TimeWindow {
	out := make([]model.TimeWindow, 0)
	for day := model.StartOfDay(from); day.Before(to); day = day.AddDate(0, 0, 1) {
		out = append(out, busyWindow(day, day.AddDate(0, 0, 1)))
	}
	return out
}

func TestNextAvailable_FullClosureTerminates(t *testing.T) {
	allWeek := officeHours(30 * time.Minute)
	allWeek.WorkingDays = []time.Weekday{0, 1, 2, 3, 4, 5, 6}

	for _, horizon := range []int{1, 7, 90, 400} {
		_, ok, err := NextAvailable(at(5, 0, 0), allWeek, closedEveryDay{}, horizon)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	closed := allWeek
	closed.WorkingDays = nil
	_, ok, err := NextAvailable(at(5, 0, 0), closed, nil, 90)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestIndexByDate_SpansDays(t *testing.T) {
	idx := IndexByDate([]model.TimeWindow{
		busyWindow(at(5, 22, 0), at(7, 2, 0)),
		busyWindow(at(8, 10, 0), at(8, 10, 0)),
	}, time.UTC)

	hours := officeHours(time.Hour)
	assert.Len(t, idx.BusyBetween(DayReach(at(5, 0, 0), hours)), 1)
	assert.Len(t, idx.BusyBetween(DayReach(at(6, 0, 0), hours)), 1)
	assert.Len(t, idx.BusyBetween(DayReach(at(7, 0, 0), hours)), 1)
	assert.Empty(t, idx.BusyBetween(DayReach(at(8, 0, 0), hours)))

	// A range over all three days still lists the window once.
	assert.Len(t, idx.BusyBetween(at(5, 0, 0), at(8, 0, 0)), 1)
}

func TestDay_BufferCrossesMidnight(t *testing.T) {
	night := model.BusinessHours{
		WorkingDays: []time.Weekday{0, 1, 2, 3, 4, 5, 6},
		Start:       model.MustClock("00:00"),
		End:         model.MustClock("03:00"),
		SlotLength:  time.Hour,
		BufferAfter: time.Hour,
	}
	late := []model.TimeWindow{busyWindow(at(5, 23, 0), at(6, 0, 0))}

	lookups := map[string]BusyLookup{
		"list":  BusyList(late),
		"index": IndexByDate(late, time.UTC),
	}
	for name, busy := range lookups {
		t.Run(name, func(t *testing.T) {
			day, err := Engine{Hours: night, Busy: busy}.Day(at(6, 0, 0))
			require.NoError(t, err)
			assert.Equal(t, []bool{false, true, true}, day.Pattern)
		})
	}

	day, err := ComputeDayAvailability(at(6, 0, 0), night, late)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, day.Pattern)
	// The event itself belongs to the previous day and is not listed.
	assert.Len(t, day.Slots, 3)

	early := night
	early.BufferAfter = 0
	early.BufferBefore = 30 * time.Minute
	next := []model.TimeWindow{busyWindow(at(7, 0, 0), at(7, 1, 0))}
	assert.Len(t, BusyForDay(next, at(6, 0, 0), early), 1)
	assert.Empty(t, BusyForDay(next, at(6, 0, 0), night))
}

func TestEngine_UnknownDaysUnavailable(t *testing.T) {
	e := Engine{
		Hours: officeHours(time.Hour),
		Known: func(day time.Time) bool { return day.Before(at(7, 0, 0)) },
	}

	day, err := e.Day(at(6, 0, 0))
	require.NoError(t, err)
	assert.True(t, day.Bookable())

	day, err = e.Day(at(7, 0, 0))
	require.NoError(t, err)
	assert.False(t, day.Bookable())
	assert.Equal(t, []bool{false, false, false, false, false}, day.Pattern)

	_, ok, err := e.NextAvailable(at(7, 0, 0), 30)
	require.NoError(t, err)
	assert.False(t, ok)
}
