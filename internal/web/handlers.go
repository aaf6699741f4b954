package web

import (
	"net/http"
	"time"

	"bookcal/internal/availability"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// dayDTO is the JSON shape of one day of availability.
type dayDTO struct {
	Date      string             `json:"date"`
	Bookable  bool               `json:"bookable"`
	InMonth   bool               `json:"in_month"`
	IsToday   bool               `json:"is_today"`
	IsPast    bool               `json:"is_past"`
	Pattern   []bool             `json:"pattern"`
	Slots     []model.TimeWindow `json:"slots"`
	Morning   []model.TimeWindow `json:"morning"`
	Afternoon []model.TimeWindow `json:"afternoon"`
}

func newDayDTO(d model.DayAvailability) dayDTO {
	return dayDTO{
		Date:      model.DateKey(d.Date),
		Bookable:  d.Bookable(),
		InMonth:   d.InMonth,
		IsToday:   d.IsToday,
		IsPast:    d.IsPast,
		Pattern:   d.Pattern,
		Slots:     d.Slots,
		Morning:   d.Morning(),
		Afternoon: d.Afternoon(),
	}
}

type monthResponse struct {
	Month     string    `json:"month"`
	WeekStart string    `json:"week_start"`
	Timezone  string    `json:"timezone"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Days      []dayDTO  `json:"days"`
	FetchedAt time.Time `json:"fetched_at"`
}

type nextResponse struct {
	Found       bool              `json:"found"`
	Slot        *model.TimeWindow `json:"slot,omitempty"`
	From        time.Time         `json:"from"`
	HorizonDays int               `json:"horizon_days"`
}

type busyResponse struct {
	From      time.Time          `json:"from"`
	To        time.Time          `json:"to"`
	Windows   []model.TimeWindow `json:"windows"`
	FetchedAt time.Time          `json:"fetched_at"`
}

type connectionDTO struct {
	model.CalendarConnection
	LastError string `json:"last_error,omitempty"`
}

type connectionsResponse struct {
	Connections []connectionDTO `json:"connections"`
	FetchedAt   time.Time       `json:"fetched_at"`
}

type refreshResponse struct {
	FetchedAt   time.Time         `json:"fetched_at"`
	BusyWindows int               `json:"busy_windows"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// engine binds the configured hours to the current busy snapshot. Days
// outside the fetched range are never offered.
func (s *Server) engine() availability.Engine {
	snap := s.busy.Snapshot()
	return availability.Engine{
		Hours: s.hours,
		Busy:  snap.Busy,
		Now:   s.now,
		Known: snap.Covers,
	}
}

// parseDate reads a YYYY-MM-DD query value in the business timezone.
func (s *Server) parseDate(v, field string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, &model.InputError{Field: field, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func (s *Server) weekStart(r *http.Request) (time.Weekday, error) {
	switch r.URL.Query().Get("week_start") {
	case "":
		return s.cfg.WeekStartDay(), nil
	case "monday":
		return time.Monday, nil
	case "sunday":
		return time.Sunday, nil
	}
	return 0, &model.InputError{Field: "week_start", Reason: "expected monday or sunday"}
}

// handleDay returns the merged slot sequence of one date.
//
// GET /api/availability/day?date=2026-01-05
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("date")
	if v == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := s.parseDate(v, "date")
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.cached(w, "day|"+model.DateKey(date), func() (any, error) {
		day, err := s.engine().Day(date)
		if err != nil {
			return nil, err
		}
		return newDayDTO(day), nil
	})
}

// handleMonth returns the month grid.
//
// GET /api/availability/month?month=2026-01&week_start=sunday
//   - month:      defaults to the current month
//   - week_start: overrides the configured first weekday
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	month := s.now().In(s.loc)
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := time.ParseInLocation(monthLayout, v, s.loc)
		if err != nil {
			writeEngineError(w, &model.InputError{Field: "month", Reason: "expected YYYY-MM"})
			return
		}
		month = m
	}
	ws, err := s.weekStart(r)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.cached(w, "month|"+month.Format(monthLayout)+"|"+ws.String(), func() (any, error) {
		days, err := s.engine().Month(month, ws)
		if err != nil {
			return nil, err
		}
		from, to := availability.MonthRange(month, ws)

		resp := monthResponse{
			Month:     month.Format(monthLayout),
			WeekStart: ws.String(),
			Timezone:  s.loc.String(),
			From:      model.DateKey(from),
			To:        model.DateKey(to),
			Days:      make([]dayDTO, 0, len(days)),
			FetchedAt: s.busy.Snapshot().FetchedAt,
		}
		for _, d := range days {
			resp.Days = append(resp.Days, newDayDTO(d))
		}
		return resp, nil
	})
}

// handleNext finds the first bookable slot.
//
// GET /api/availability/next?from=2026-01-05&horizon=30
//   - from:    defaults to now; a date in the past or today starts at now
//   - horizon: days to search, defaults to horizon_days from the config
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	horizon := parseIntDefault(q.Get("horizon"), s.cfg.HorizonDays)

	now := s.now().In(s.loc)
	from := now
	if v := q.Get("from"); v != "" {
		d, err := s.parseDate(v, "from")
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if d.After(now) {
			from = d
		}
	}

	slot, ok, err := s.engine().NextAvailable(from, horizon)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := nextResponse{Found: ok, From: from, HorizonDays: horizon}
	if ok {
		resp.Slot = &slot
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBusy lists the busy windows of the current snapshot.
//
// GET /api/busy?from=2026-01-01&to=2026-02-01
// Both bounds default to the range of the last refresh.
func (s *Server) handleBusy(w http.ResponseWriter, r *http.Request) {
	snap := s.busy.Snapshot()
	q := r.URL.Query()

	from, to := snap.From, snap.To
	if v := q.Get("from"); v != "" {
		d, err := s.parseDate(v, "from")
		if err != nil {
			writeEngineError(w, err)
			return
		}
		from = d
	}
	if v := q.Get("to"); v != "" {
		d, err := s.parseDate(v, "to")
		if err != nil {
			writeEngineError(w, err)
			return
		}
		to = d
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	writeJSON(w, http.StatusOK, busyResponse{
		From:      from,
		To:        to,
		Windows:   snap.Windows(from, to),
		FetchedAt: snap.FetchedAt,
	})
}

// handleConnections lists configured calendars without their secrets.
func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	snap := s.busy.Snapshot()
	resp := connectionsResponse{
		Connections: make([]connectionDTO, 0, len(s.cfg.Connections)),
		FetchedAt:   snap.FetchedAt,
	}
	for _, c := range s.cfg.Connections {
		resp.Connections = append(resp.Connections, connectionDTO{
			CalendarConnection: c,
			LastError:          snap.Errors[c.ID],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs a refresh now. Per-connection failures are reported in
// the body; the request itself only fails when nothing could be refreshed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.busy.RunOnce(r.Context())
	if err != nil {
		appLog.Error("manual refresh finished with errors", err)
		if len(snap.Errors) == 0 {
			writeError(w, http.StatusBadGateway, "refresh failed")
			return
		}
	}

	n := 0
	for _, pb := range snap.Providers {
		n += len(pb.Intervals)
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		FetchedAt:   snap.FetchedAt,
		BusyWindows: n,
		Errors:      snap.Errors,
	})
}
