// Package config loads runtime settings from the environment, after merging an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"agendasync/internal/remote"
	"agendasync/internal/window"
)

// Event sources.
const (
	SourceWebhook = "webhook"
	SourceGoogle  = "google"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultOffset is the fixed offset calendar days are resolved in.
const DefaultOffset = "-03:00"

// Config holds every setting of the commands.
type Config struct {
	Source   string
	Webhook  Webhook
	Google   Google
	CalDAV   CalDAV
	Offset   string
	Location *time.Location
	Timeout  time.Duration

	CacheBackend string
	CachePath    string

	MetricsAddr string
	LogLevel    string
}

// Webhook configures the automation webhooks source.
type Webhook struct {
	BaseURL    string
	Token      string
	EventsPath string
	AddPath    string
	UpdatePath string
	RemovePath string
}

// Google configures the Google Calendar source.
type Google struct {
	ClientID     string
	ClientSecret string
	Account      string
	CalendarID   string
	TokenDir     string
}

// CalDAV configures the mirror target.
type CalDAV struct {
	URL          string
	Username     string
	Password     string
	CalendarName string
}

// Load reads .env, when present, and then the process environment.
func Load() (*Config, error) {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// Auth is what the auth command needs: the Google client and token settings.
type Auth struct {
	Google   Google
	LogLevel string
}

// LoadAuth reads .env, when present, and only the Google and logging keys.
// Other settings are neither read nor validated.
func LoadAuth() Auth {
	_ = godotenv.Load()
	return AuthFromEnv(os.Getenv)
}

// AuthFromEnv builds the auth settings from getenv.
func AuthFromEnv(getenv func(string) string) Auth {
	get := lookup(getenv)
	return Auth{Google: googleFromEnv(get), LogLevel: get("LOG_LEVEL", "info")}
}

func lookup(getenv func(string) string) func(key, def string) string {
	return func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
}

func googleFromEnv(get func(key, def string) string) Google {
	return Google{
		ClientID:     get("GOOGLE_CLIENT_ID", ""),
		ClientSecret: get("GOOGLE_CLIENT_SECRET", ""),
		Account:      get("GOOGLE_ACCOUNT", ""),
		CalendarID:   get("GOOGLE_CALENDAR_ID", "primary"),
		TokenDir:     get("GOOGLE_TOKEN_DIR", "."),
	}
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := lookup(getenv)

	cfg := &Config{
		Source: strings.ToLower(get("EVENT_SOURCE", SourceWebhook)),
		Webhook: Webhook{
			BaseURL:    get("EVENTS_BASE_URL", ""),
			Token:      get("EVENTS_TOKEN", ""),
			EventsPath: get("EVENTS_PATH", "events"),
			AddPath:    get("EVENTS_ADD_PATH", remote.OpAdd),
			UpdatePath: get("EVENTS_UPDATE_PATH", remote.OpUpdate),
			RemovePath: get("EVENTS_REMOVE_PATH", remote.OpRemove),
		},
		Google: googleFromEnv(get),
		CalDAV: CalDAV{
			URL:          get("CALDAV_URL", ""),
			Username:     get("CALDAV_USERNAME", ""),
			Password:     get("CALDAV_PASSWORD", ""),
			CalendarName: get("CALDAV_CALENDAR_NAME", ""),
		},
		Offset:       get("CALENDAR_UTC_OFFSET", DefaultOffset),
		CacheBackend: strings.ToLower(get("CACHE_BACKEND", BackendFile)),
		CachePath:    get("CACHE_PATH", ""),
		MetricsAddr:  get("METRICS_ADDR", ""),
		LogLevel:     get("LOG_LEVEL", "info"),
	}

	var errs []error

	loc, err := window.ParseOffset(cfg.Offset)
	if err != nil {
		errs = append(errs, fmt.Errorf("CALENDAR_UTC_OFFSET: %w", err))
	}
	cfg.Location = loc

	cfg.Timeout = remote.DefaultTimeout
	if raw := get("HTTP_TIMEOUT", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("HTTP_TIMEOUT: invalid duration %q", raw))
		} else {
			cfg.Timeout = d
		}
	}

	switch cfg.Source {
	case SourceWebhook, SourceGoogle:
	default:
		errs = append(errs, fmt.Errorf("EVENT_SOURCE: unknown source %q", cfg.Source))
	}

	switch cfg.CacheBackend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND: unknown backend %q", cfg.CacheBackend))
	}
	if cfg.CachePath == "" {
		cfg.CachePath = defaultCachePath(cfg.CacheBackend)
	}

	return cfg, errors.Join(errs...)
}

// ValidateSource checks the settings the selected event source needs.
func (c *Config) ValidateSource() error {
	switch c.Source {
	case SourceGoogle:
		if c.Google.Account == "" {
			return fmt.Errorf("GOOGLE_ACCOUNT environment variable not set")
		}
	default:
		if c.Webhook.BaseURL == "" {
			return fmt.Errorf("EVENTS_BASE_URL environment variable not set")
		}
	}
	return nil
}

// ValidateCalDAV checks the mirror settings.
func (c *Config) ValidateCalDAV() error {
	var missing []string
	if c.CalDAV.Username == "" {
		missing = append(missing, "CALDAV_USERNAME")
	}
	if c.CalDAV.Password == "" {
		missing = append(missing, "CALDAV_PASSWORD")
	}
	if c.CalDAV.CalendarName == "" {
		missing = append(missing, "CALDAV_CALENDAR_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func defaultCachePath(backend string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "events.json"
	if backend == BackendSQLite {
		name = "events.db"
	}
	return filepath.Join(dir, "agendasync", name)
}
