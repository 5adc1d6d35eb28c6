// Package config handles Memu configuration loading.
//
// Configuration comes from a YAML file (with ${VAR} expansion) and is then
// overlaid with the environment variables used by the household
// deployment's .env file, so an existing install keeps working without a
// config file edit.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/memu/config.yaml, /etc/memu/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "memu", "config.yaml"))
	}

	paths = append(paths, "/etc/memu/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Memu configuration.
type Config struct {
	Matrix    MatrixConfig    `yaml:"matrix"`
	Database  DatabaseConfig  `yaml:"database"`
	AI        AIConfig        `yaml:"ai"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Photos    PhotosConfig    `yaml:"photos"`
	Briefing  BriefingConfig  `yaml:"briefing"`
	Weather   WeatherConfig   `yaml:"weather"`
	News      NewsConfig      `yaml:"news"`
	Backup    BackupConfig    `yaml:"backup"`
	Reminders RemindersConfig `yaml:"reminders"`
	Recall    RecallConfig    `yaml:"recall"`
	Listen    ListenConfig    `yaml:"listen"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	DataDir   string          `yaml:"data_dir"`
	Timezone  string          `yaml:"timezone"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
}

// MatrixConfig defines the homeserver connection for the bot account.
type MatrixConfig struct {
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
	// DisplayName is matched (case-insensitively) as a mention in quiet
	// and active rooms, alongside the user ID's local part.
	DisplayName string        `yaml:"display_name"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	// StaleAfter drops events whose server timestamp is older than this
	// when they arrive, so a restart does not replay old conversation.
	StaleAfter time.Duration `yaml:"stale_after"`
	// AutoJoin accepts room invites.
	AutoJoin bool `yaml:"auto_join"`
}

// DatabaseConfig selects the household store backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Path     string `yaml:"path"` // SQLite file; relative paths resolve under data_dir
}

// DataSource returns the connection string for the configured driver.
// For postgres an explicit DSN wins over the discrete host fields.
func (d DatabaseConfig) DataSource() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "sqlite" {
		return d.Path
	}
	if d.Host == "" || d.Name == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	if d.User != "" {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

// AIConfig defines the local Ollama model used by the intent engine.
type AIConfig struct {
	Enabled     bool          `yaml:"enabled"`
	OllamaURL   string        `yaml:"ollama_url"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// CalendarConfig defines the CalDAV account. An empty URL disables the
// calendar features.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ConnectAttempts bounds the backoff loop used when discovering the
	// principal and calendar collection.
	ConnectAttempts int `yaml:"connect_attempts"`
	// SearchMonthsBack is how far back keyword search looks.
	SearchMonthsBack int `yaml:"search_months_back"`
	// WorkdayStartHour and WorkdayEndHour bound /free answers.
	WorkdayStartHour int `yaml:"workday_start_hour"`
	WorkdayEndHour   int `yaml:"workday_end_hour"`
}

// PhotosConfig defines the Immich photo library connection. An empty URL
// disables photo search and on-this-day memories.
type PhotosConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Limit  int    `yaml:"limit"`
}

// BriefingConfig defines the daily morning briefing.
type BriefingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Time is the local delivery time as HH:MM.
	Time        string `yaml:"time"`
	PrimaryRoom string `yaml:"primary_room"`
}

// WeatherConfig defines the optional OpenWeatherMap lookup for briefings.
type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
	BaseURL string `yaml:"base_url"`
}

// NewsConfig lists RSS feeds whose headlines are included in briefings.
type NewsConfig struct {
	Feeds        []string `yaml:"feeds"`
	MaxHeadlines int      `yaml:"max_headlines"`
}

// BackupConfig defines backup monitoring and USB copy coordination.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	USBMarkerPath string        `yaml:"usb_marker_path"`
	USBResultPath string        `yaml:"usb_result_path"`
	USBScriptPath string        `yaml:"usb_script_path"`
	USBTimeout    time.Duration `yaml:"usb_timeout"`
	// USBOverdueDays is the age after which a missing USB copy downgrades
	// health to warning and triggers the weekly reminder.
	USBOverdueDays int `yaml:"usb_overdue_days"`
	// ReminderWeekday is the day of the weekly USB reminder ("sunday").
	ReminderWeekday   string `yaml:"reminder_weekday"`
	ReminderStartHour int    `yaml:"reminder_start_hour"`
	ReminderEndHour   int    `yaml:"reminder_end_hour"`
}

// Weekday resolves ReminderWeekday, defaulting to Sunday.
func (b BackupConfig) Weekday() time.Weekday {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(b.ReminderWeekday, d.String()) {
			return d
		}
	}
	return time.Sunday
}

// RemindersConfig defines the reminder sweep.
type RemindersConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RecallConfig tunes the cross-silo recall engine.
type RecallConfig struct {
	SiloTimeout time.Duration `yaml:"silo_timeout"`
	// SynthesisThreshold is the number of silos with hits at which the
	// answer is synthesized by the model instead of listed directly.
	SynthesisThreshold int `yaml:"synthesis_threshold"`
	// SummaryThreshold is the answer length (characters) above which the
	// answer is condensed by the model.
	SummaryThreshold int  `yaml:"summary_threshold"`
	ChatLimit        int  `yaml:"chat_limit"`
	Debug            bool `yaml:"debug"`
}

// ListenConfig defines the admin HTTP server (health, metrics). Port 0
// disables it.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// MQTTConfig defines the optional Home Assistant MQTT integration. An
// empty Broker disables it.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies defaults and then environment overrides. An empty path skips
// the file and builds the config from defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			UserID:      "@memu_bot:memu.local",
			DisplayName: "Memu",
			SyncTimeout: 30 * time.Second,
			StaleAfter:  60 * time.Second,
			AutoJoin:    true,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			Host:   "localhost",
			Port:   5432,
			Name:   "memu_core",
			User:   "memu_user",
		},
		AI: AIConfig{
			Enabled:     true,
			OllamaURL:   "http://localhost:11434",
			Model:       "ministral:3b",
			Timeout:     120 * time.Second,
			Temperature: 0.7,
		},
		Calendar: CalendarConfig{
			ConnectAttempts:  3,
			SearchMonthsBack: 12,
			WorkdayStartHour: 9,
			WorkdayEndHour:   17,
		},
		Photos: PhotosConfig{Limit: 20},
		Briefing: BriefingConfig{
			Enabled: true,
			Time:    "07:00",
		},
		Weather: WeatherConfig{
			Country: "GB",
			BaseURL: "https://api.openweathermap.org",
		},
		News: NewsConfig{
			Feeds:        []string{"https://feeds.bbci.co.uk/news/rss.xml"},
			MaxHeadlines: 3,
		},
		Backup: BackupConfig{
			Enabled:           true,
			CheckInterval:     30 * time.Second,
			InitialDelay:      30 * time.Second,
			USBMarkerPath:     "/tmp/memu/usb_detected",
			USBResultPath:     "/tmp/memu/usb_result",
			USBScriptPath:     "/opt/memu/scripts/usb-backup.sh",
			USBTimeout:        time.Hour,
			USBOverdueDays:    7,
			ReminderWeekday:   "sunday",
			ReminderStartHour: 9,
			ReminderEndHour:   11,
		},
		Reminders: RemindersConfig{Interval: 10 * time.Second},
		Recall: RecallConfig{
			SiloTimeout:        10 * time.Second,
			SynthesisThreshold: 2,
			SummaryThreshold:   1500,
			ChatLimit:          10,
		},
		Listen: ListenConfig{Port: 8090},
		MQTT: MQTTConfig{
			DeviceName:         "memu",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		DataDir:   "./data",
		Timezone:  "Europe/London",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// applyDefaults fills zero values left behind by a partial YAML file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Matrix.SyncTimeout <= 0 {
		c.Matrix.SyncTimeout = def.Matrix.SyncTimeout
	}
	if c.Matrix.StaleAfter <= 0 {
		c.Matrix.StaleAfter = def.Matrix.StaleAfter
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.Port == 0 {
		c.Database.Port = def.Database.Port
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" && c.Database.DSN == "" {
		c.Database.Path = filepath.Join(c.DataDir, "memu.db")
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = def.AI.Timeout
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}
	if c.Calendar.ConnectAttempts <= 0 {
		c.Calendar.ConnectAttempts = def.Calendar.ConnectAttempts
	}
	if c.Calendar.SearchMonthsBack <= 0 {
		c.Calendar.SearchMonthsBack = def.Calendar.SearchMonthsBack
	}
	if c.Calendar.WorkdayEndHour <= c.Calendar.WorkdayStartHour {
		c.Calendar.WorkdayStartHour = def.Calendar.WorkdayStartHour
		c.Calendar.WorkdayEndHour = def.Calendar.WorkdayEndHour
	}
	if c.Photos.Limit <= 0 {
		c.Photos.Limit = def.Photos.Limit
	}
	if c.Backup.CheckInterval <= 0 {
		c.Backup.CheckInterval = def.Backup.CheckInterval
	}
	if c.Backup.USBTimeout <= 0 {
		c.Backup.USBTimeout = def.Backup.USBTimeout
	}
	if c.Backup.USBOverdueDays <= 0 {
		c.Backup.USBOverdueDays = def.Backup.USBOverdueDays
	}
	if c.Reminders.Interval <= 0 {
		c.Reminders.Interval = def.Reminders.Interval
	}
	if c.Recall.SiloTimeout <= 0 {
		c.Recall.SiloTimeout = def.Recall.SiloTimeout
	}
	if c.Recall.SynthesisThreshold <= 0 {
		c.Recall.SynthesisThreshold = def.Recall.SynthesisThreshold
	}
	if c.Recall.SummaryThreshold <= 0 {
		c.Recall.SummaryThreshold = def.Recall.SummaryThreshold
	}
	if c.Recall.ChatLimit <= 0 {
		c.Recall.ChatLimit = def.Recall.ChatLimit
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = def.MQTT.PublishIntervalSec
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
}

// Validate reports configuration problems that prevent startup. All
// problems are returned together.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, errors.New("matrix.homeserver_url is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("matrix.user_id is required"))
	} else if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		errs = append(errs, fmt.Errorf("matrix.user_id %q is not a full Matrix ID (@name:server)", c.Matrix.UserID))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("matrix.access_token is required"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (postgres, sqlite)", c.Database.Driver))
	}
	if c.Database.DataSource() == "" {
		errs = append(errs, errors.New("database connection is not configured"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Briefing.Enabled {
		if _, _, err := ParseClock(c.Briefing.Time); err != nil {
			errs = append(errs, fmt.Errorf("briefing.time: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Location returns the configured household time zone, falling back to
// UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
