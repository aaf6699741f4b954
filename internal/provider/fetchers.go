package provider

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"bookcal/internal/caldav"
	"bookcal/internal/ics"
	"bookcal/internal/model"
)

// ICSFetcher serves every provider that publishes a secret ICS address.
type ICSFetcher struct {
	fetcher *ics.Fetcher
}

// NewICSFetcher wraps an ics.Fetcher.
func NewICSFetcher(f *ics.Fetcher) *ICSFetcher {
	return &ICSFetcher{fetcher: f}
}

func (f *ICSFetcher) FetchBusy(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	if conn.URL == "" {
		return nil, errors.New("ics url is empty")
	}
	return f.fetcher.FetchBusy(ctx, ics.Source{ConnectionID: conn.ID, URL: conn.URL}, from, to, loc)
}

// CalDAVFetcher serves apple connections. Clients are kept per connection
// so discovery is done once.
type CalDAVFetcher struct {
	hc *http.Client

	mu      sync.Mutex
	clients map[string]*caldav.Client
}

// NewCalDAVFetcher returns a fetcher using hc for all servers; hc may be nil.
func NewCalDAVFetcher(hc *http.Client) *CalDAVFetcher {
	return &CalDAVFetcher{hc: hc, clients: make(map[string]*caldav.Client)}
}

func (f *CalDAVFetcher) FetchBusy(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	return f.client(conn).BusyWindows(ctx, conn.ID, conn.CalendarPath, from, to, loc)
}

func (f *CalDAVFetcher) client(conn model.CalendarConnection) *caldav.Client {
	key := conn.ID + "|" + conn.URL + "|" + conn.Username

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[key]; ok {
		return c
	}
	c := caldav.NewClient(conn.URL, conn.Username, conn.Password, f.hc)
	f.clients[key] = c
	return c
}
