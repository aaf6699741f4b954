package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookcal/internal/model"
)

const sampleFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//bookcal//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20260101T000000Z
DTSTART:20260105T100000Z
DTEND:20260105T110000Z
SUMMARY:Standup
LOCATION:Room 1
END:VEVENT
BEGIN:VEVENT
UID:weekly@example.com
DTSTAMP:20260101T000000Z
DTSTART:20260105T140000Z
DTEND:20260105T150000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20260112T140000Z
SUMMARY:Weekly review
END:VEVENT
BEGIN:VEVENT
UID:weekly@example.com
DTSTAMP:20260101T000000Z
RECURRENCE-ID:20260119T140000Z
DTSTART:20260119T160000Z
DTEND:20260119T170000Z
SUMMARY:Weekly review (moved)
END:VEVENT
BEGIN:VEVENT
UID:focus@example.com
DTSTAMP:20260101T000000Z
DTSTART:20260106T090000Z
DTEND:20260106T100000Z
TRANSP:TRANSPARENT
SUMMARY:Focus time
END:VEVENT
BEGIN:VEVENT
UID:cancelled@example.com
DTSTAMP:20260101T000000Z
DTSTART:20260106T120000Z
DTEND:20260106T130000Z
STATUS:CANCELLED
SUMMARY:Lunch
END:VEVENT
BEGIN:VEVENT
UID:holiday@example.com
DTSTAMP:20260101T000000Z
DTSTART;VALUE=DATE:20260107
DTEND;VALUE=DATE:20260108
SUMMARY:Holiday
END:VEVENT
END:VCALENDAR
`

func feed() []byte {
	return []byte(strings.ReplaceAll(sampleFeed, "\n", "\r\n"))
}

var januaryStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
var januaryEnd = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ConnectionID: "work"}, feed())
	require.NoError(t, err)
	require.Len(t, events, 6)

	byUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		byUID[ev.UID] = append(byUID[ev.UID], ev)
	}

	standup := byUID["standup@example.com"][0]
	assert.Equal(t, "Standup", standup.Summary)
	assert.Equal(t, "Room 1", standup.Location)
	assert.True(t, standup.Start.Equal(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)))
	assert.True(t, standup.Blocks())

	assert.False(t, byUID["focus@example.com"][0].Blocks())
	assert.False(t, byUID["cancelled@example.com"][0].Blocks())
	assert.True(t, byUID["holiday@example.com"][0].AllDay)

	weekly := byUID["weekly@example.com"]
	require.Len(t, weekly, 2)
	overrides := 0
	for _, ev := range weekly {
		if ev.IsOverride {
			overrides++
			require.NotNil(t, ev.Recurrence)
		} else {
			assert.Equal(t, "FREQ=WEEKLY;COUNT=4", ev.RawRRule)
			assert.Len(t, ev.ExDates, 1)
		}
	}
	assert.Equal(t, 1, overrides)
}

func TestParseICS_Empty(t *testing.T) {
	_, err := ParseICS(Source{}, nil)
	assert.Error(t, err)
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ConnectionID: "work"}, feed())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      januaryStart,
		RangeEnd:        januaryEnd,
	})
	require.NoError(t, err)
	assert.Empty(t, res.TruncatedEvents)

	starts := make(map[string]model.Occurrence)
	for _, occ := range res.Occurrences {
		starts[occ.Start.Format(time.RFC3339)] = occ
		assert.Equal(t, "work", occ.ConnectionID)
	}
	require.Len(t, res.Occurrences, 5)

	assert.Contains(t, starts, "2026-01-05T10:00:00Z")
	assert.Contains(t, starts, "2026-01-05T14:00:00Z")
	assert.NotContains(t, starts, "2026-01-12T14:00:00Z") // EXDATE
	assert.NotContains(t, starts, "2026-01-19T14:00:00Z") // moved
	assert.Equal(t, "Weekly review (moved)", starts["2026-01-19T16:00:00Z"].Summary)
	assert.Contains(t, starts, "2026-01-26T14:00:00Z")

	holiday := starts["2026-01-07T00:00:00Z"]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), holiday.End)
}

func TestExpandOccurrences_RangeAndCap(t *testing.T) {
	events, err := ParseICS(Source{ConnectionID: "work"}, feed())
	require.NoError(t, err)

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		RangeEnd:        januaryEnd,
	})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 2)

	res, err = ExpandOccurrences(events, ExpandConfig{
		RangeStart:             januaryStart,
		RangeEnd:               januaryEnd,
		MaxOccurrencesPerEvent: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly@example.com"}, res.TruncatedEvents)

	_, err = ExpandOccurrences(events, ExpandConfig{RangeStart: januaryEnd, RangeEnd: januaryStart})
	assert.Error(t, err)
}

func TestBusyWindows(t *testing.T) {
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	windows := BusyWindows([]model.Occurrence{
		{ConnectionID: "work", Summary: "x", Location: "y", Start: at, End: at.Add(time.Hour)},
		{ConnectionID: "work", Start: at, End: at},
	})
	require.Len(t, windows, 1)
	assert.Equal(t, model.SourceCalendarEvent, windows[0].Source)
	assert.False(t, windows[0].Available)
	assert.Equal(t, "x", windows[0].Title)
	assert.Equal(t, "work", windows[0].ConnectionID)
}

func TestFetchOne_CachesAndRevalidates(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` && status.Load() == http.StatusOK {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(feed())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ConnectionID: "work", URL: srv.URL + "/secret.ics"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.Body)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	status.Store(http.StatusInternalServerError)
	third, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, int32(3), hits.Load())

	_, err = f.FetchOne(context.Background(), Source{ConnectionID: "other", URL: srv.URL + "/other.ics"})
	assert.Error(t, err)
}

func TestFetchBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(feed())
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	windows, err := f.FetchBusy(context.Background(), Source{ConnectionID: "work", URL: srv.URL}, januaryStart, januaryEnd, time.UTC)
	require.NoError(t, err)
	assert.Len(t, windows, 5)
	for _, w := range windows {
		assert.NoError(t, w.Validate())
	}
}

func TestNormalizeAndRedactURL(t *testing.T) {
	assert.Equal(t, "https://p01-caldav.icloud.com/published/2/abc", normalizeURL("webcal://p01-caldav.icloud.com/published/2/abc"))
	assert.Equal(t, "https://example.com/a.ics", normalizeURL(" https://example.com/a.ics "))
	assert.Equal(t, "https://calendar.google.com/...(redacted)", redactURL("https://calendar.google.com/calendar/ical/private-abc/basic.ics"))
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com?token=abc"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
