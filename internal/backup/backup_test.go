package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/memu-digital/memu-bot/internal/household"
)

var now = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	latest     *household.BackupRecord
	success    *household.BackupRecord
	stats      household.BackupStats
	failures   []household.BackupRecord
	notified   []int64
	usbCopied  map[int64]time.Time
	statsError error
}

func (f *fakeStore) LatestBackup(context.Context) (household.BackupRecord, error) {
	if f.latest == nil {
		return household.BackupRecord{}, household.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeStore) LatestSuccessfulBackup(context.Context) (household.BackupRecord, error) {
	if f.success == nil {
		return household.BackupRecord{}, household.ErrNotFound
	}
	return *f.success, nil
}

func (f *fakeStore) BackupStats(context.Context) (household.BackupStats, error) {
	return f.stats, f.statsError
}

func (f *fakeStore) UnnotifiedFailures(context.Context) ([]household.BackupRecord, error) {
	return f.failures, nil
}

func (f *fakeStore) MarkBackupNotified(_ context.Context, id int64) error {
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeStore) MarkUSBCopied(_ context.Context, id int64, at time.Time) error {
	if f.usbCopied == nil {
		f.usbCopied = map[int64]time.Time{}
	}
	f.usbCopied[id] = at
	return nil
}

func testMonitor(store Store, cfg Config) *Monitor {
	m := New(store, cfg, nil)
	m.SetClock(func() time.Time { return now })
	return m
}

func TestStatus_Health(t *testing.T) {
	ok := &household.BackupRecord{ID: 3, Status: household.BackupSuccess, SizeBytes: 245 * 1024 * 1024, CreatedAt: now.Add(-6 * time.Hour)}
	failed := &household.BackupRecord{ID: 4, Status: household.BackupFailed, Error: "disk full", CreatedAt: now.Add(-time.Hour)}

	tests := []struct {
		name     string
		store    *fakeStore
		health   Health
		warnings []string
		errText  string
	}{
		{
			name:   "healthy",
			store:  &fakeStore{latest: ok, stats: household.BackupStats{Count: 3, TotalBytes: 3 << 30, LastUSB: now.AddDate(0, 0, -2)}},
			health: Healthy,
		},
		{
			name:     "usb never copied",
			store:    &fakeStore{latest: ok, stats: household.BackupStats{Count: 1}},
			health:   Warning,
			warnings: []string{WarnUSBOverdue},
		},
		{
			name:     "usb stale",
			store:    &fakeStore{latest: ok, stats: household.BackupStats{Count: 1, LastUSB: now.AddDate(0, 0, -8)}},
			health:   Warning,
			warnings: []string{WarnUSBOverdue},
		},
		{
			name:   "usb exactly seven days is fine",
			store:  &fakeStore{latest: ok, stats: household.BackupStats{Count: 1, LastUSB: now.AddDate(0, 0, -7)}},
			health: Healthy,
		},
		{
			name:    "latest failed beats fresh usb",
			store:   &fakeStore{latest: failed, stats: household.BackupStats{Count: 2, LastUSB: now.AddDate(0, 0, -1)}},
			health:  Critical,
			errText: "disk full",
		},
		{
			name:     "no backups",
			store:    &fakeStore{},
			health:   Critical,
			warnings: []string{WarnUSBOverdue, WarnNoBackups},
			errText:  "No backups found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := testMonitor(tt.store, Config{}).Status(context.Background())
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if st.Health != tt.health {
				t.Errorf("Health = %s, want %s", st.Health, tt.health)
			}
			if strings.Join(st.Warnings, ",") != strings.Join(tt.warnings, ",") {
				t.Errorf("Warnings = %v, want %v", st.Warnings, tt.warnings)
			}
			if st.Error != tt.errText {
				t.Errorf("Error = %q, want %q", st.Error, tt.errText)
			}
		})
	}
}

func TestStatus_StoreError(t *testing.T) {
	m := testMonitor(&fakeStore{statsError: errors.New("db down")}, Config{})
	if _, err := m.Status(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestFormatStatus(t *testing.T) {
	store := &fakeStore{
		latest: &household.BackupRecord{Status: household.BackupSuccess, SizeBytes: 245 * 1024 * 1024, CreatedAt: now.Add(-6 * time.Hour)},
		stats:  household.BackupStats{Count: 7, TotalBytes: 1536 * 1024 * 1024, LastUSB: now.AddDate(0, 0, -3)},
	}
	st, err := testMonitor(store, Config{}).Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := "**Backup Status**\n\n" +
		"Last backup: 6 hours ago (245.0 MB)\n" +
		"Local backups: 7 stored (1.5 GB total)\n" +
		"USB backup: 3 days ago\n\n" +
		"Health: All systems healthy"
	got := FormatStatus(st)
	if got != want {
		t.Errorf("FormatStatus =\n%s\nwant\n%s", got, want)
	}
	if FormatStatus(st) != got {
		t.Error("FormatStatus is not deterministic")
	}
}

func TestFormatStatus_Critical(t *testing.T) {
	st := Status{Health: Critical, Error: "disk full", LastBackupHuman: "1 hour ago", LastBackupSizeHuman: "0 B", TotalSizeHuman: "0 B"}
	if got := FormatStatus(st); !strings.HasSuffix(got, "Health: BACKUP FAILED - disk full") {
		t.Errorf("got %q", got)
	}
	st = Status{Health: Critical, Warnings: []string{WarnUSBOverdue, WarnNoBackups}, Error: "No backups found", LastBackupHuman: "Never"}
	if got := FormatStatus(st); !strings.HasSuffix(got, "Health: No backups found!") || !strings.Contains(got, "USB backup: Never") {
		t.Errorf("got %q", got)
	}
}

func TestShouldSendUSBReminder(t *testing.T) {
	tests := []struct {
		name    string
		lastUSB time.Time
		want    bool
	}{
		{"never", time.Time{}, true},
		{"recent", now.AddDate(0, 0, -3), false},
		{"stale", now.AddDate(0, 0, -10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMonitor(&fakeStore{stats: household.BackupStats{LastUSB: tt.lastUSB}}, Config{})
			got, err := m.ShouldSendUSBReminder(context.Background())
			if err != nil || got != tt.want {
				t.Errorf("ShouldSendUSBReminder = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{245 * 1024 * 1024, "245.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.n); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "Just now"},
		{time.Minute, "1 minute ago"},
		{45 * time.Minute, "45 minutes ago"},
		{time.Hour, "1 hour ago"},
		{6 * time.Hour, "6 hours ago"},
		{25 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if got := FormatTimeAgo(time.Time{}, now); got != "Unknown" {
		t.Errorf("zero time = %q", got)
	}
}

func TestFailureAndUSBMessages(t *testing.T) {
	alert := FormatFailure(household.BackupRecord{Error: "pg_dump: connection refused"})
	if !strings.Contains(alert, "Last night's backup failed: pg_dump: connection refused") {
		t.Errorf("alert = %q", alert)
	}
	if !strings.Contains(FormatFailure(household.BackupRecord{}), "failed: Unknown error") {
		t.Error("missing default error text")
	}

	reminder := FormatUSBReminder(Status{USBCopied: true, USBDaysAgo: 12, TotalSizeHuman: "1.5 GB"})
	if !strings.Contains(reminder, "It's been 12 days since your last USB backup.") || !strings.HasSuffix(reminder, "Current backup size: ~1.5 GB") {
		t.Errorf("reminder = %q", reminder)
	}
	if !strings.Contains(FormatUSBReminder(Status{}), "You haven't made a USB backup yet.") {
		t.Error("never-copied reminder wrong")
	}

	ok := FormatUSBSuccess(USBResult{Status: USBSuccess, USBLabel: "FAMILY", Filename: "memu_2026.tar.gz", Size: "1.2G"})
	if !strings.Contains(ok, "Copied latest backup to 'FAMILY' drive.") || !strings.Contains(ok, "File: memu_2026.tar.gz (1.2G)") {
		t.Errorf("success = %q", ok)
	}
	if got := FormatUSBError(USBResult{Status: USBError, Message: "No space left"}); !strings.Contains(got, "Error: No space left") {
		t.Errorf("error = %q", got)
	}
}

func TestWindow(t *testing.T) {
	w := Window{Weekday: time.Sunday, StartHour: 9, EndHour: 11}
	sunday := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want bool
	}{
		{sunday.Add(9 * time.Hour), true},
		{sunday.Add(10*time.Hour + 59*time.Minute), true},
		{sunday.Add(11 * time.Hour), false},
		{sunday.Add(8 * time.Hour), false},
		{sunday.AddDate(0, 0, 1).Add(10 * time.Hour), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.t); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func usbConfig(t *testing.T, script string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		MarkerPath: filepath.Join(dir, "usb_detected"),
		ResultPath: filepath.Join(dir, "usb_result"),
		ScriptPath: filepath.Join(dir, "usb-backup.sh"),
		Timeout:    5 * time.Second,
	}
	if script != "" {
		script = strings.ReplaceAll(script, "$RESULT", cfg.ResultPath)
		if err := os.WriteFile(cfg.ScriptPath, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHandleUSB_NoMarker(t *testing.T) {
	m := testMonitor(&fakeStore{}, usbConfig(t, ""))
	if _, ran := m.HandleUSB(context.Background()); ran {
		t.Error("ran without marker")
	}
}

func TestHandleUSB_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script")
	}
	cfg := usbConfig(t, `echo '{"status":"success","usb_label":"FAMILY","filename":"memu.tar.gz","size":"1.2G"}' > "$RESULT"`+"\n")
	touch(t, cfg.MarkerPath)
	store := &fakeStore{success: &household.BackupRecord{ID: 9}}
	m := testMonitor(store, cfg)

	res, ran := m.HandleUSB(context.Background())
	if !ran || !res.OK() || res.USBLabel != "FAMILY" {
		t.Fatalf("HandleUSB = %+v, %v", res, ran)
	}
	if at, ok := store.usbCopied[9]; !ok || !at.Equal(now) {
		t.Errorf("usbCopied = %v", store.usbCopied)
	}
	for _, p := range []string{cfg.MarkerPath, cfg.ResultPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s not removed", filepath.Base(p))
		}
	}
}

func TestHandleUSB_ScriptFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script")
	}
	cfg := usbConfig(t, "echo 'drive is read-only' >&2\nexit 3\n")
	touch(t, cfg.MarkerPath)
	store := &fakeStore{success: &household.BackupRecord{ID: 9}}

	res, ran := testMonitor(store, cfg).HandleUSB(context.Background())
	if !ran || res.OK() || res.Message != "drive is read-only" {
		t.Errorf("HandleUSB = %+v, %v", res, ran)
	}
	if len(store.usbCopied) != 0 {
		t.Error("marked copied after failure")
	}
	if _, err := os.Stat(cfg.MarkerPath); !os.IsNotExist(err) {
		t.Error("marker not removed")
	}
}

func TestHandleUSB_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script")
	}
	cfg := usbConfig(t, "exec sleep 5\n")
	cfg.Timeout = 100 * time.Millisecond
	touch(t, cfg.MarkerPath)

	res, ran := testMonitor(&fakeStore{}, cfg).HandleUSB(context.Background())
	if !ran || res.Status != USBError || res.Message != "USB backup timed out" {
		t.Errorf("HandleUSB = %+v, %v", res, ran)
	}
}

func TestHandleUSB_ReportedFailure(t *testing.T) {
	cfg := usbConfig(t, "")
	touch(t, cfg.MarkerPath)
	if err := os.WriteFile(cfg.ResultPath, []byte(`{"status":"error","message":"No space left on device"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	res, ran := testMonitor(&fakeStore{}, cfg).HandleUSB(context.Background())
	if !ran || res.OK() || res.Message != "No space left on device" {
		t.Errorf("HandleUSB = %+v, %v", res, ran)
	}
	if _, err := os.Stat(cfg.ResultPath); !os.IsNotExist(err) {
		t.Error("result file not removed")
	}
}
