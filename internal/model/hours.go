package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSlotLength is used when BusinessHours.SlotLength is unset.
const DefaultSlotLength = 30 * time.Minute

// Clock is a time of day expressed in minutes since midnight.
// "24:00" is accepted so a day can close at midnight.
type Clock int

// ParseClock parses "HH:MM". The hour may be a single digit; the minute
// always has two.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || !digits(hh, 1, 2) || !digits(mm, 2, 2) {
		return 0, fmt.Errorf("clock %q: expected HH:MM", s)
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: out of range", s)
	}
	return Clock(h*60 + m), nil
}

func digits(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the wall-clock instant of c on day's calendar date.
func (c Clock) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), int(c)/60, int(c)%60, 0, 0, day.Location())
}

func (c Clock) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Clock) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseClock(node.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// BusinessHours is the read-only opening schedule the engine computes from.
type BusinessHours struct {
	WorkingDays  []time.Weekday
	Start        Clock
	End          Clock
	BufferBefore time.Duration
	BufferAfter  time.Duration
	SlotLength   time.Duration
}

// Validate returns a *ConfigurationError describing the first problem found.
func (h BusinessHours) Validate() error {
	if h.Start >= h.End {
		return &ConfigurationError{Field: "start", Reason: fmt.Sprintf("start %s must be before end %s", h.Start, h.End)}
	}
	if len(h.WorkingDays) == 0 {
		return &ConfigurationError{Field: "working_days", Reason: "at least one working day is required"}
	}
	for _, d := range h.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			return &ConfigurationError{Field: "working_days", Reason: fmt.Sprintf("weekday %d out of range 0-6", d)}
		}
	}
	if h.BufferBefore < 0 || h.BufferAfter < 0 {
		return &ConfigurationError{Field: "buffer", Reason: "buffers must not be negative"}
	}
	if h.SlotLength < 0 {
		return &ConfigurationError{Field: "slot_minutes", Reason: "slot length must be positive"}
	}
	return nil
}

// Step returns the slot length, falling back to DefaultSlotLength.
func (h BusinessHours) Step() time.Duration {
	if h.SlotLength <= 0 {
		return DefaultSlotLength
	}
	return h.SlotLength
}

// WorksOn reports whether d is one of the working days.
func (h BusinessHours) WorksOn(d time.Weekday) bool {
	for _, w := range h.WorkingDays {
		if w == d {
			return true
		}
	}
	return false
}
