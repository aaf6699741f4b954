// Package caldav reads busy time from CalDAV servers, Apple iCloud first of
// all.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"

	appLog "bookcal/internal/log"
	"bookcal/internal/model"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"
)

// Calendar represents a calendar collection found on the server.
type Calendar struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Client is a CalDAV client bound to one account.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu     sync.Mutex
	client *caldav.Client
}

// NewClient creates a new CalDAV client. hc may be nil.
func NewClient(baseURL, username, password string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     hc,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc := *c.http
	hc.Transport = &basicAuthTransport{
		username: c.username,
		password: c.password,
		base:     base,
	}

	client, err := caldav.NewClient(&hc, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(req)
}

// DiscoverCalendars returns all calendars for the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}
	return result, nil
}

// BusyWindows returns the busy time of calendarPath within [from, to),
// recurring events expanded, in loc. An empty calendarPath busies every
// calendar the account owns.
func (c *Client) BusyWindows(ctx context.Context, connectionID, calendarPath string, from, to time.Time, loc *time.Location) ([]model.TimeWindow, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("caldav %s: credentials not configured", connectionID)
	}
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	paths := []string{calendarPath}
	if calendarPath == "" {
		cals, err := c.DiscoverCalendars(ctx)
		if err != nil {
			return nil, err
		}
		paths = paths[:0]
		for _, cal := range cals {
			paths = append(paths, cal.Path)
		}
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from.UTC(),
					End:   to.UTC(),
				},
			},
		},
	}

	out := make([]model.TimeWindow, 0)
	for _, p := range paths {
		objects, err := client.QueryCalendar(ctx, p, query)
		if err != nil {
			return nil, fmt.Errorf("query calendar: %w", err)
		}
		for _, obj := range objects {
			if obj.Data == nil {
				continue
			}
			windows, err := calendarBusy(obj.Data, connectionID, from, to, loc)
			if err != nil {
				// Skip invalid objects, keep the rest of the calendar.
				appLog.Error("caldav object skipped", err, "connection", connectionID, "path", obj.Path)
				continue
			}
			out = append(out, windows...)
		}
	}

	appLog.Debug("caldav busy windows", "connection", connectionID, "calendars", len(paths), "windows", len(out))
	return out, nil
}
