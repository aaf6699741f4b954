// Package refresh keeps a snapshot of busy calendar time up to date. A cron
// schedule pulls every enabled connection, indexes the result by date and
// notifies subscribers once the new snapshot is in place.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bookcal/internal/availability"
	appLog "bookcal/internal/log"
	"bookcal/internal/metrics"
	"bookcal/internal/model"
	"bookcal/internal/provider"
	"bookcal/internal/store"
)

const (
	defaultFetchDays = 62
	runTimeout       = 2 * time.Minute
)

// BusyFetcher is satisfied by *provider.Registry.
type BusyFetcher interface {
	FetchAll(ctx context.Context, conns []model.CalendarConnection, from, to time.Time, loc *time.Location) ([]model.ProviderBusy, error)
}

// Snapshot is an immutable view of busy time. Callers must not modify it.
type Snapshot struct {
	Busy      availability.BusyByDate
	Providers []model.ProviderBusy
	From      time.Time
	To        time.Time
	FetchedAt time.Time
	// Errors holds the last fetch error per connection ID.
	Errors map[string]string
}

// Windows returns every busy window of the snapshot intersecting [from, to).
func (s Snapshot) Windows(from, to time.Time) []model.TimeWindow {
	out := make([]model.TimeWindow, 0)
	for _, w := range availability.Flatten(s.Providers) {
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out
}

// Covers reports whether busy time was fetched for the whole of day. Before
// the first run nothing is covered.
func (s Snapshot) Covers(day time.Time) bool {
	if s.FetchedAt.IsZero() {
		return false
	}
	start := model.StartOfDay(day)
	return !start.Before(s.From) && !start.AddDate(0, 0, 1).After(s.To)
}

type Options struct {
	// Connections is called on every run so config edits are picked up.
	Connections func() []model.CalendarConnection
	Location    *time.Location
	FetchDays   int
	// Spec is a standard five-field cron expression.
	Spec    string
	Metrics *metrics.Metrics
	// Store, if set, receives every snapshot and seeds Restore.
	Store store.SnapshotStore
	Now   func() time.Time
}

type Refresher struct {
	fetcher BusyFetcher
	opts    Options

	runMu sync.Mutex

	mu          sync.RWMutex
	snap        Snapshot
	subscribers []func(Snapshot)

	cron *cron.Cron
}

func New(fetcher BusyFetcher, opts Options) *Refresher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.FetchDays <= 0 {
		opts.FetchDays = defaultFetchDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Connections == nil {
		opts.Connections = func() []model.CalendarConnection { return nil }
	}
	return &Refresher{
		fetcher: fetcher,
		opts:    opts,
		snap:    Snapshot{Busy: availability.BusyByDate{}, Errors: map[string]string{}},
	}
}

// Snapshot returns the current snapshot. Before the first run it is empty.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Subscribe registers fn to be called after every completed run.
func (r *Refresher) Subscribe(fn func(Snapshot)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()
}

// Range is the fetch window for a run at now. It starts six days before the
// first of the month so the leading days of the month grid are covered.
func (r *Refresher) Range(now time.Time) (time.Time, time.Time) {
	now = now.In(r.opts.Location)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.opts.Location)
	from := first.AddDate(0, 0, -6)
	to := model.StartOfDay(now).AddDate(0, 0, r.opts.FetchDays+1)
	return from, to
}

// RunOnce fetches every connection and publishes a new snapshot. Runs are
// serialized. Connections that fail keep their windows from the previous
// snapshot, so a flaky feed does not open up time that is actually busy.
// The returned error joins the per-connection failures.
func (r *Refresher) RunOnce(ctx context.Context) (Snapshot, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	started := r.opts.Now()
	from, to := r.Range(started)
	conns := r.opts.Connections()

	busy, fetchErr := r.fetcher.FetchAll(ctx, conns, from, to, r.opts.Location)

	failed := connectionErrors(fetchErr)
	prev := r.Snapshot()
	if len(failed) > 0 {
		fresh := make(map[string]bool, len(busy))
		for _, pb := range busy {
			fresh[pb.ConnectionID] = true
		}
		for _, pb := range prev.Providers {
			if _, bad := failed[pb.ConnectionID]; bad && !fresh[pb.ConnectionID] {
				busy = append(busy, pb)
			}
		}
	}

	windows := availability.Flatten(busy)
	snap := Snapshot{
		Busy:      availability.IndexByDate(windows, r.opts.Location),
		Providers: busy,
		From:      from,
		To:        to,
		FetchedAt: started,
		Errors:    failed,
	}

	subs := r.publish(snap)
	r.persist(ctx, snap)

	elapsed := r.opts.Now().Sub(started).Seconds()
	r.opts.Metrics.ObserveRefresh(fetchErr == nil, elapsed, len(windows))
	if fetchErr != nil {
		appLog.Error("refresh finished with errors", fetchErr, "failed", len(failed), "connections", len(conns))
	} else {
		appLog.Info("refresh finished", "connections", len(conns), "busy", len(windows), "seconds", elapsed)
	}

	for _, fn := range subs {
		fn(snap)
	}
	return snap, fetchErr
}

// Restore seeds the snapshot from the configured store. It is a no-op when
// no store is set, nothing was saved or a refresh already ran.
func (r *Refresher) Restore(ctx context.Context) (bool, error) {
	if r.opts.Store == nil {
		return false, nil
	}
	rec, ok, err := r.opts.Store.Load(ctx)
	if err != nil || !ok {
		return false, err
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.Snapshot().FetchedAt.IsZero() {
		return false, nil
	}
	if rec.Errors == nil {
		rec.Errors = map[string]string{}
	}
	snap := Snapshot{
		Busy:      availability.IndexByDate(availability.Flatten(rec.Providers), r.opts.Location),
		Providers: rec.Providers,
		From:      rec.From,
		To:        rec.To,
		FetchedAt: rec.FetchedAt,
		Errors:    rec.Errors,
	}
	for _, fn := range r.publish(snap) {
		fn(snap)
	}
	appLog.Info("restored busy snapshot", "fetched_at", rec.FetchedAt.Format(time.RFC3339), "connections", len(rec.Providers))
	return true, nil
}

// publish swaps in snap and returns the subscribers to notify.
func (r *Refresher) publish(snap Snapshot) []func(Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = snap
	subs := make([]func(Snapshot), len(r.subscribers))
	copy(subs, r.subscribers)
	return subs
}

func (r *Refresher) persist(ctx context.Context, snap Snapshot) {
	if r.opts.Store == nil {
		return
	}
	err := r.opts.Store.Save(ctx, store.Record{
		Providers: snap.Providers,
		From:      snap.From,
		To:        snap.To,
		FetchedAt: snap.FetchedAt,
		Errors:    snap.Errors,
	})
	if err != nil {
		appLog.Error("failed to persist busy snapshot", err)
	}
}

// Start runs one refresh immediately and then schedules the cron job. The
// jobs stop when ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	spec := r.opts.Spec
	if spec == "" {
		return errors.New("refresh schedule is empty")
	}

	c := cron.New(
		cron.WithLocation(r.opts.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(spec, func() { r.scheduled(ctx) }); err != nil {
		return fmt.Errorf("add refresh job %q: %w", spec, err)
	}

	r.scheduled(ctx)

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec, "tz", r.opts.Location.String())

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running job.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
}

func (r *Refresher) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	_, _ = r.RunOnce(runCtx)
}

// connectionErrors collects the *provider.ConnectionError values of a
// joined fetch error, keyed by connection ID.
func connectionErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var ce *provider.ConnectionError
		if errors.As(e, &ce) {
			out[ce.ConnectionID] = ce.Err.Error()
		}
	}
	return out
}

// cronLogger routes cron's own messages to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
