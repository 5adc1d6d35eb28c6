// Package backup turns the nightly backup history into a health verdict
// and coordinates copying the latest archive to a USB drive.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/metrics"
)

// Health is the overall backup verdict.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// Warning codes carried in Status.Warnings.
const (
	WarnUSBOverdue = "usb_overdue"
	WarnNoBackups  = "no_backups"
)

// Store is the slice of the household store the monitor reads and
// updates.
type Store interface {
	LatestBackup(ctx context.Context) (household.BackupRecord, error)
	LatestSuccessfulBackup(ctx context.Context) (household.BackupRecord, error)
	BackupStats(ctx context.Context) (household.BackupStats, error)
	UnnotifiedFailures(ctx context.Context) ([]household.BackupRecord, error)
	MarkBackupNotified(ctx context.Context, id int64) error
	MarkUSBCopied(ctx context.Context, id int64, at time.Time) error
}

// Config holds the monitor settings. Zero values fall back to the
// defaults used on a standard install.
type Config struct {
	MarkerPath  string
	ResultPath  string
	ScriptPath  string
	Timeout     time.Duration
	OverdueDays int
}

func (c Config) withDefaults() Config {
	if c.MarkerPath == "" {
		c.MarkerPath = "/tmp/memu/usb_detected"
	}
	if c.ResultPath == "" {
		c.ResultPath = "/tmp/memu/usb_result"
	}
	if c.ScriptPath == "" {
		c.ScriptPath = "/opt/memu/scripts/usb-backup.sh"
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Hour
	}
	if c.OverdueDays <= 0 {
		c.OverdueDays = 7
	}
	return c
}

// Monitor computes backup health and runs USB copies.
type Monitor struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Monitor.
func New(store Store, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Status is everything the status and reminder messages need.
type Status struct {
	Health              Health `json:"health"`
	LastBackupHuman     string `json:"last_backup"`
	LastBackupSizeHuman string `json:"last_backup_size"`
	BackupCount         int    `json:"backup_count"`
	TotalBytes          int64  `json:"total_bytes"`
	TotalSizeHuman      string `json:"total_size"`
	// USBCopied is false when no backup ever reached a USB drive, in
	// which case USBDaysAgo is meaningless.
	USBCopied  bool     `json:"usb_copied"`
	USBDaysAgo int      `json:"usb_days_ago"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// HasWarning reports whether code is among the warnings.
func (s Status) HasWarning(code string) bool {
	for _, w := range s.Warnings {
		if w == code {
			return true
		}
	}
	return false
}

// Status aggregates the backup history. Critical (latest failed, or no
// backups at all) wins over a USB warning.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	stats, err := m.store.BackupStats(ctx)
	if err != nil {
		return Status{}, err
	}
	latest, err := m.store.LatestBackup(ctx)
	noBackups := errors.Is(err, household.ErrNotFound)
	if err != nil && !noBackups {
		return Status{}, err
	}

	now := m.now()
	st := Status{Health: Healthy}
	if !stats.LastUSB.IsZero() {
		st.USBCopied = true
		st.USBDaysAgo = daysBetween(stats.LastUSB, now)
	}
	if !st.USBCopied || st.USBDaysAgo > m.cfg.OverdueDays {
		st.Warnings = append(st.Warnings, WarnUSBOverdue)
		st.Health = Warning
	}

	if noBackups {
		st.Warnings = append(st.Warnings, WarnNoBackups)
		st.Health = Critical
		st.LastBackupHuman = "Never"
		st.LastBackupSizeHuman = FormatSize(0)
		st.TotalSizeHuman = FormatSize(0)
		st.USBCopied = false
		st.USBDaysAgo = 0
		st.Error = "No backups found"
		m.record(st)
		return st, nil
	}

	if latest.Status == household.BackupFailed {
		st.Health = Critical
		st.Error = latest.Error
		if st.Error == "" {
			st.Error = "Unknown error"
		}
	}
	st.LastBackupHuman = FormatTimeAgo(latest.CreatedAt, now)
	st.LastBackupSizeHuman = FormatSize(latest.SizeBytes)
	st.BackupCount = stats.Count
	st.TotalBytes = stats.TotalBytes
	st.TotalSizeHuman = FormatSize(stats.TotalBytes)
	m.record(st)
	return st, nil
}

func (m *Monitor) record(st Status) {
	switch st.Health {
	case Healthy:
		metrics.BackupHealth.Set(0)
	case Warning:
		metrics.BackupHealth.Set(1)
	default:
		metrics.BackupHealth.Set(2)
	}
}

// ShouldSendUSBReminder is true when nothing was ever copied to USB or
// the last copy is older than the overdue threshold.
func (m *Monitor) ShouldSendUSBReminder(ctx context.Context) (bool, error) {
	stats, err := m.store.BackupStats(ctx)
	if err != nil {
		return false, err
	}
	if stats.LastUSB.IsZero() {
		return true, nil
	}
	return daysBetween(stats.LastUSB, m.now()) > m.cfg.OverdueDays, nil
}

// UnnotifiedFailures returns failed runs not yet announced, oldest
// first.
func (m *Monitor) UnnotifiedFailures(ctx context.Context) ([]household.BackupRecord, error) {
	return m.store.UnnotifiedFailures(ctx)
}

// MarkNotified records that a failure was announced.
func (m *Monitor) MarkNotified(ctx context.Context, id int64) error {
	if err := m.store.MarkBackupNotified(ctx, id); err != nil {
		return fmt.Errorf("mark backup %d notified: %w", id, err)
	}
	return nil
}

// daysBetween counts whole elapsed days.
func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

// FormatSize renders bytes with binary units: plain bytes under 1 KB,
// otherwise KB, MB or GB with one decimal.
func FormatSize(n int64) string {
	const unit = 1024
	switch {
	case n < unit:
		return fmt.Sprintf("%d B", n)
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	}
}

// FormatTimeAgo renders the age of t relative to now, e.g. "6 hours ago".
func FormatTimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	if days := int(d / (24 * time.Hour)); days > 0 {
		return plural(days, "day") + " ago"
	}
	if hours := int(d / time.Hour); hours > 0 {
		return plural(hours, "hour") + " ago"
	}
	if minutes := int(d / time.Minute); minutes > 0 {
		return plural(minutes, "minute") + " ago"
	}
	return "Just now"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
