// Package provider turns configured calendar connections into
// provider-tagged busy intervals. Provider differences stay behind the
// Fetcher interface; callers only ever see model.ProviderBusy values.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"bookcal/internal/ics"
	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

// defaultConcurrency bounds parallel connection fetches.
const defaultConcurrency = 4

// Fetcher loads the busy windows of one connection within [from, to).
type Fetcher interface {
	FetchBusy(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error)

func (f FetcherFunc) FetchBusy(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	return f(ctx, conn, from, to, loc)
}

// Observer is notified about every connection fetch.
type Observer interface {
	ObserveFetch(provider string, ok bool, seconds float64)
}

// ConnectionError ties a fetch failure to its connection.
type ConnectionError struct {
	ConnectionID string
	Provider     model.Provider
	Err          error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s (%s): %v", e.ConnectionID, e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Registry maps providers to fetchers.
type Registry struct {
	fetchers    map[model.Provider]Fetcher
	concurrency int
	observer    Observer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fetchers:    make(map[model.Provider]Fetcher),
		concurrency: defaultConcurrency,
	}
}

// NewDefaultRegistry wires the built-in fetchers: ICS feeds for google,
// outlook and plain ics connections, CalDAV for apple.
func NewDefaultRegistry(cacheDir string, hc *http.Client) *Registry {
	r := NewRegistry()
	feeds := &ICSFetcher{fetcher: ics.NewFetcher(cacheDir, hc)}
	r.Register(model.ProviderGoogle, feeds)
	r.Register(model.ProviderOutlook, feeds)
	r.Register(model.ProviderICS, feeds)
	r.Register(model.ProviderApple, NewCalDAVFetcher(hc))
	return r
}

// Register sets the fetcher for p, replacing any previous one.
func (r *Registry) Register(p model.Provider, f Fetcher) {
	r.fetchers[p] = f
}

// SetConcurrency bounds the number of connections fetched at once.
func (r *Registry) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

// SetObserver installs a fetch observer, typically metrics.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// FetchAll fetches every enabled connection concurrently. Failed
// connections are reported in the returned error (one *ConnectionError per
// failure, joined) while the successful ones are still returned, in
// connection order.
func (r *Registry) FetchAll(ctx context.Context, conns []model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.ProviderBusy, error) {
	enabled := make([]model.CalendarConnection, 0, len(conns))
	for _, c := range conns {
		if c.Enabled() {
			enabled = append(enabled, c)
		}
	}

	results := make([]*model.ProviderBusy, len(enabled))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, conn := range enabled {
		g.Go(func() error {
			windows, err := r.fetchOne(gctx, conn, from, to, loc)
			if err != nil {
				mu.Lock()
				errs = append(errs, &ConnectionError{ConnectionID: conn.ID, Provider: conn.Provider, Err: err})
				mu.Unlock()
				appLog.Error("provider fetch failed", err, "connection", conn.ID, "provider", conn.Provider)
				// One failing calendar must not cancel the others.
				return nil
			}
			results[i] = &model.ProviderBusy{
				Provider:     conn.Provider,
				ConnectionID: conn.ID,
				Intervals:    windows,
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.ProviderBusy, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out, errors.Join(errs...)
}

func (r *Registry) fetchOne(ctx context.Context, conn model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	f, ok := r.fetchers[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("no fetcher for provider %q", conn.Provider)
	}

	started := time.Now()
	windows, err := f.FetchBusy(ctx, conn, from, to, loc)
	if r.observer != nil {
		r.observer.ObserveFetch(string(conn.Provider), err == nil, time.Since(started).Seconds())
	}
	if err != nil {
		return nil, err
	}

	for i := range windows {
		windows[i].Source = model.SourceCalendarEvent
		windows[i].Available = false
		if windows[i].ConnectionID == "" {
			windows[i].ConnectionID = conn.ID
		}
	}
	return windows, nil
}
