package availability

import (
	"errors"
	"time"

	"bookcal/internal/model"
)

// SelectionState is the widget's booking flow position.
type SelectionState int

const (
	StateIdle SelectionState = iota
	StateDateSelected
	StateModalOpen
)

func (s SelectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDateSelected:
		return "date_selected"
	case StateModalOpen:
		return "modal_open"
	default:
		return "unknown"
	}
}

var (
	ErrDayNotBookable  = errors.New("day has no available slot")
	ErrNoDateSelected  = errors.New("no date selected")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrSlotOutsideDay  = errors.New("slot does not belong to the selected date")
	ErrModalNotOpen    = errors.New("booking modal is not open")
)

// Selection tracks a visitor's date and slot choice. The zero value is idle.
// It is not safe for concurrent use; each widget session owns one.
type Selection struct {
	state SelectionState
	day   *model.DayAvailability
	slot  *model.TimeWindow
}

func (s *Selection) State() SelectionState { return s.state }

// Day returns the selected day, if any.
func (s *Selection) Day() (model.DayAvailability, bool) {
	if s.day == nil {
		return model.DayAvailability{}, false
	}
	return *s.day, true
}

// Slot returns the slot picked for the open modal, if any.
func (s *Selection) Slot() (model.TimeWindow, bool) {
	if s.slot == nil {
		return model.TimeWindow{}, false
	}
	return *s.slot, true
}

// SelectDate moves to StateDateSelected if day is bookable. A modal that was
// open is closed.
func (s *Selection) SelectDate(day model.DayAvailability) error {
	if !day.Bookable() {
		return ErrDayNotBookable
	}
	s.day = &day
	s.slot = nil
	s.state = StateDateSelected
	return nil
}

// SelectSlot opens the booking modal for slot.
func (s *Selection) SelectSlot(slot model.TimeWindow) error {
	if s.day == nil {
		return ErrNoDateSelected
	}
	if !slot.Available {
		return ErrSlotUnavailable
	}
	if model.DateKey(slot.Start) != model.DateKey(s.day.Date) {
		return ErrSlotOutsideDay
	}
	s.slot = &slot
	s.state = StateModalOpen
	return nil
}

// CloseModal returns to the selected date.
func (s *Selection) CloseModal() {
	if s.state != StateModalOpen {
		return
	}
	s.slot = nil
	s.state = StateDateSelected
}

// Submit completes the booking action and returns to the selected date. The
// submitted slot is returned for the caller to hand to the booking backend.
func (s *Selection) Submit() (model.TimeWindow, error) {
	if s.state != StateModalOpen || s.slot == nil {
		return model.TimeWindow{}, ErrModalNotOpen
	}
	slot := *s.slot
	s.slot = nil
	s.state = StateDateSelected
	return slot, nil
}

// NavigateMonth resets to idle only when the selected date falls outside the
// newly visible range [from, to).
func (s *Selection) NavigateMonth(from, to time.Time) {
	if s.day == nil {
		return
	}
	d := s.day.Date
	if d.Before(from) || !d.Before(to) {
		s.day = nil
		s.slot = nil
		s.state = StateIdle
	}
}
