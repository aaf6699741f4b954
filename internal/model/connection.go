package model

import "strings"

// Provider identifies the kind of external calendar behind a connection.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderOutlook Provider = "outlook"
	ProviderApple   Provider = "apple"
	ProviderICS     Provider = "ics"
)

// ParseProvider normalizes a provider name. Unknown names are returned as-is
// with ok=false.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGoogle, ProviderOutlook, ProviderApple, ProviderICS:
		return p, true
	case "icloud":
		return ProviderApple, true
	case "microsoft", "office365":
		return ProviderOutlook, true
	}
	return p, false
}

// CalendarConnection is a configured external calendar. The engine only reads
// it to decide whose busy intervals to merge.
type CalendarConnection struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Provider Provider `yaml:"provider" json:"provider"`

	// URL is the secret ICS address (google, outlook, ics) or the CalDAV
	// server base URL (apple).
	URL string `yaml:"url" json:"-"`

	// CalDAV credentials and calendar path, apple only.
	Username     string `yaml:"username,omitempty" json:"-"`
	Password     string `yaml:"password,omitempty" json:"-"`
	CalendarPath string `yaml:"calendar_path,omitempty" json:"calendar_path,omitempty"`

	Connected bool `yaml:"connected" json:"connected"`
	Active    bool `yaml:"active" json:"active"`
}

// Enabled reports whether busy events from this connection should be merged.
func (c CalendarConnection) Enabled() bool {
	return c.Connected && c.Active
}

// ProviderBusy is the provider-tagged result of one connection's fetch.
// The merger treats every variant the same way.
type ProviderBusy struct {
	Provider     Provider     `json:"provider"`
	ConnectionID string       `json:"connection_id"`
	Intervals    []TimeWindow `json:"intervals"`
}
