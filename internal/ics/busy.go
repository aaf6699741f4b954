package ics

import (
	"context"
	"fmt"
	"time"

	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// BusyWindows converts expanded occurrences into calendar-event windows.
// Zero-length occurrences are dropped since they cannot block a slot.
func BusyWindows(occs []model.Occurrence) []model.TimeWindow {
	out := make([]model.TimeWindow, 0, len(occs))
	for _, occ := range occs {
		if !occ.Start.Before(occ.End) {
			continue
		}
		out = append(out, model.TimeWindow{
			Start:        occ.Start,
			End:          occ.End,
			Available:    false,
			Source:       model.SourceCalendarEvent,
			Title:        occ.Summary,
			Location:     occ.Location,
			ConnectionID: occ.ConnectionID,
		})
	}
	return out
}

// FetchBusy runs the whole feed pipeline for one source: fetch (with the
// disk cache), parse, expand within [from, to) and convert to busy windows
// in loc.
func (f *Fetcher) FetchBusy(ctx context.Context, src Source, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	res, err := f.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}

	events, err := ParseICS(src, res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.ConnectionID, err)
	}

	expanded, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      from,
		RangeEnd:        to,
	})
	if err != nil {
		return nil, err
	}

	windows := BusyWindows(expanded.Occurrences)
	appLog.Debug("ics busy windows",
		"connection", src.ConnectionID,
		"events", len(events),
		"windows", len(windows),
		"from_cache", res.FromCache,
	)
	return windows, nil
}
