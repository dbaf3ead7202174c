// Package config loads the client configuration from YAML or JSON5 files.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/proximo/internal/backoff"
)

// Config is the main configuration structure for proximo.
type Config struct {
	Version  int            `yaml:"version"`
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Location LocationConfig `yaml:"location"`
	Typing   TypingConfig   `yaml:"typing"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type APIConfig struct {
	// URL is the server origin; REST calls go to URL + "/api".
	URL     string         `yaml:"url"`
	Timeout time.Duration  `yaml:"timeout"`
	Retry   backoff.Policy `yaml:"retry"`
}

// BaseURL returns the REST root.
func (c APIConfig) BaseURL() string {
	return strings.TrimRight(c.URL, "/") + "/api"
}

type RealtimeConfig struct {
	// URL is the websocket origin; channels live at URL + "/" + namespace.
	// Empty derives it from api.url.
	URL              string         `yaml:"url"`
	HandshakeTimeout time.Duration  `yaml:"handshake_timeout"`
	PingInterval     time.Duration  `yaml:"ping_interval"`
	PongWait         time.Duration  `yaml:"pong_wait"`
	WriteWait        time.Duration  `yaml:"write_wait"`
	Reconnect        backoff.Policy `yaml:"reconnect"`
}

// Location sources.
const (
	SourceStatic = "static"
	SourceTrack  = "track"
)

type LocationConfig struct {
	Source string `yaml:"source" jsonschema:"enum=static,enum=track"`

	// Static source.
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	Accuracy     float64 `yaml:"accuracy"`
	JitterMeters float64 `yaml:"jitter_meters"`

	// Track source.
	TrackFile string `yaml:"track_file"`

	HighAccuracy bool          `yaml:"high_accuracy"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAge       time.Duration `yaml:"max_age"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`

	// FallbackSchedule is the cron spec of the REST fallback used while the
	// location channel is down. Empty disables it.
	FallbackSchedule string `yaml:"fallback_schedule"`
}

type TypingConfig struct {
	Idle  time.Duration `yaml:"idle"`
	Grace time.Duration `yaml:"grace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" jsonschema:"enum=json,enum=text"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			URL:     "http://localhost:3000",
			Timeout: 15 * time.Second,
			Retry:   backoff.RequestPolicy(),
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     25 * time.Second,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
			Reconnect:        backoff.ReconnectPolicy(),
		},
		Location: LocationConfig{
			Source:           SourceStatic,
			Latitude:         -23.5505,
			Longitude:        -46.6333,
			Accuracy:         10,
			HighAccuracy:     true,
			Timeout:          10 * time.Second,
			PollInterval:     5 * time.Second,
			PollTimeout:      5 * time.Second,
			FallbackSchedule: "@every 15s",
		},
		Typing: TypingConfig{
			Idle:  3 * time.Second,
			Grace: 6 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// RealtimeURL returns realtime.url, or the api origin with a ws scheme.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return strings.TrimRight(c.Realtime.URL, "/")
	}
	u, err := url.Parse(strings.TrimRight(c.API.URL, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = def.API.Timeout
	}
	if cfg.API.Retry.MaxAttempts == 0 {
		cfg.API.Retry.MaxAttempts = def.API.Retry.MaxAttempts
	}
	if cfg.Realtime.HandshakeTimeout <= 0 {
		cfg.Realtime.HandshakeTimeout = def.Realtime.HandshakeTimeout
	}
	if cfg.Realtime.PingInterval <= 0 {
		cfg.Realtime.PingInterval = def.Realtime.PingInterval
	}
	if cfg.Realtime.PongWait <= 0 {
		cfg.Realtime.PongWait = def.Realtime.PongWait
	}
	if cfg.Realtime.WriteWait <= 0 {
		cfg.Realtime.WriteWait = def.Realtime.WriteWait
	}
	cfg.Realtime.Reconnect = cfg.Realtime.Reconnect.WithDefaults()
	if cfg.Location.Source == "" {
		cfg.Location.Source = SourceStatic
	}
	if cfg.Location.Timeout <= 0 {
		cfg.Location.Timeout = def.Location.Timeout
	}
	if cfg.Location.PollInterval <= 0 {
		cfg.Location.PollInterval = def.Location.PollInterval
	}
	if cfg.Location.PollTimeout <= 0 {
		cfg.Location.PollTimeout = def.Location.PollTimeout
	}
	if cfg.Typing.Idle <= 0 {
		cfg.Typing.Idle = def.Typing.Idle
	}
	if cfg.Typing.Grace <= 0 {
		cfg.Typing.Grace = def.Typing.Grace
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var issues []string
	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	issues = append(issues, checkURL("api.url", c.API.URL, "http", "https")...)
	if c.Realtime.URL != "" {
		issues = append(issues, checkURL("realtime.url", c.Realtime.URL, "ws", "wss")...)
	}

	switch c.Location.Source {
	case SourceStatic:
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			issues = append(issues, fmt.Sprintf("location.latitude out of range: %v", c.Location.Latitude))
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			issues = append(issues, fmt.Sprintf("location.longitude out of range: %v", c.Location.Longitude))
		}
		if c.Location.Accuracy < 0 || c.Location.JitterMeters < 0 {
			issues = append(issues, "location.accuracy and location.jitter_meters must be non-negative")
		}
	case SourceTrack:
		if strings.TrimSpace(c.Location.TrackFile) == "" {
			issues = append(issues, "location.track_file is required when location.source is track")
		}
	default:
		issues = append(issues, fmt.Sprintf("location.source must be %q or %q, got %q", SourceStatic, SourceTrack, c.Location.Source))
	}
	if c.Location.FallbackSchedule != "" {
		if err := validateSchedule(c.Location.FallbackSchedule); err != nil {
			issues = append(issues, fmt.Sprintf("location.fallback_schedule: %v", err))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func checkURL(field, raw string, schemes ...string) []string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []string{fmt.Sprintf("%s must be an absolute URL, got %q", field, raw)}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)}
}

// ValidationError lists configuration problems.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}
