package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"bookcal/internal/model"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the operator API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RedisConfig enables sharing the busy snapshot through Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Key      string `yaml:"key,omitempty" json:"key,omitempty"`
	// TTLHours bounds how long a stale snapshot may be served; 0 keeps it.
	TTLHours int `yaml:"ttl_hours,omitempty" json:"ttl_hours,omitempty"`
}

// BusinessHoursConfig is the YAML form of model.BusinessHours.
type BusinessHoursConfig struct {
	// WorkingDays uses 0 = Sunday ... 6 = Saturday.
	WorkingDays []int       `yaml:"working_days" json:"working_days"`
	Start       model.Clock `yaml:"start" json:"start"`
	End         model.Clock `yaml:"end" json:"end"`

	BufferBeforeMinutes int `yaml:"buffer_before" json:"buffer_before"`
	BufferAfterMinutes  int `yaml:"buffer_after" json:"buffer_after"`

	// SlotMinutes is the candidate slot length.
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the widget API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone business hours are expressed in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls the first column of the month grid:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-fetching busy events from connected calendars.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds the next-available search.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// FetchDays is how far ahead busy events are pulled on each refresh.
	FetchDays int `yaml:"fetch_days" json:"fetch_days"`

	// CacheDir stores the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	BusinessHours BusinessHoursConfig `yaml:"business_hours" json:"business_hours"`

	// Connections lists the external calendars whose events block slots.
	Connections []model.CalendarConnection `yaml:"connections" json:"connections"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Redis, if non-nil with an address, persists busy snapshots.
	Redis *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		WeekStart:   "monday",
		RefreshCron: "*/15 * * * *",
		HorizonDays: 90,
		FetchDays:   90,
		CacheDir:    "/var/lib/bookcal/ics-cache",
		LogLevel:    "info",
		LogFormat:   "console",
		BusinessHours: BusinessHoursConfig{
			WorkingDays: []int{1, 2, 3, 4, 5},
			Start:       model.MustClock("09:00"),
			End:         model.MustClock("17:00"),
			SlotMinutes: 30,
		},
		Connections: []model.CalendarConnection{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Business hours are not
// defaulted field by field; an invalid schedule is reported by
// Hours() instead of silently replaced. FetchDays is raised to HorizonDays
// so the next-available search never runs past the fetched busy range.
// Connection IDs are made unique.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday to match the widget header.
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 90
	}
	if c.FetchDays < c.HorizonDays {
		c.FetchDays = c.HorizonDays
	}
	if c.CacheDir == "" {
		c.CacheDir = "/var/lib/bookcal/ics-cache"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.BusinessHours.SlotMinutes <= 0 {
		c.BusinessHours.SlotMinutes = int(model.DefaultSlotLength / time.Minute)
	}
	if c.Connections == nil {
		c.Connections = []model.CalendarConnection{}
	}
	seen := make(map[string]int, len(c.Connections))
	for i := range c.Connections {
		conn := &c.Connections[i]
		if p, ok := model.ParseProvider(string(conn.Provider)); ok {
			conn.Provider = p
		}
		if conn.ID == "" {
			conn.ID = connectionID(*conn)
		}
		base := conn.ID
		for seen[conn.ID] > 0 {
			seen[base]++
			conn.ID = fmt.Sprintf("%s-%d", base, seen[base])
		}
		seen[conn.ID]++
	}
}

// connectionID derives a stable ID for connections saved without one.
func connectionID(c model.CalendarConnection) string {
	if c.Name != "" {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c.Name), " ", "-"))
	}
	key := string(c.Provider) + "|" + c.URL + "|" + c.CalendarPath
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// WeekStartDay returns the first weekday of the month grid.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Hours converts and validates the business-hours section.
func (c *Config) Hours() (model.BusinessHours, error) {
	bh := c.BusinessHours
	days := make([]time.Weekday, 0, len(bh.WorkingDays))
	for _, d := range bh.WorkingDays {
		days = append(days, time.Weekday(d))
	}
	hours := model.BusinessHours{
		WorkingDays:  days,
		Start:        bh.Start,
		End:          bh.End,
		BufferBefore: time.Duration(bh.BufferBeforeMinutes) * time.Minute,
		BufferAfter:  time.Duration(bh.BufferAfterMinutes) * time.Minute,
		SlotLength:   time.Duration(bh.SlotMinutes) * time.Minute,
	}
	if err := hours.Validate(); err != nil {
		return model.BusinessHours{}, fmt.Errorf("business_hours: %w", err)
	}
	return hours, nil
}

// EnabledConnections returns the connections whose events are merged.
func (c *Config) EnabledConnections() []model.CalendarConnection {
	out := make([]model.CalendarConnection, 0, len(c.Connections))
	for _, conn := range c.Connections {
		if conn.Enabled() {
			out = append(out, conn)
		}
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600, since connections carry
//     calendar secrets.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".bookcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
