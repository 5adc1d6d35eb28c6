package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/household"
)

// FormatStatus renders the /backup-status reply.
func FormatStatus(st Status) string {
	lines := []string{
		"**Backup Status**",
		"",
		fmt.Sprintf("Last backup: %s (%s)", st.LastBackupHuman, st.LastBackupSizeHuman),
		fmt.Sprintf("Local backups: %d stored (%s total)", st.BackupCount, st.TotalSizeHuman),
	}
	if st.USBCopied {
		lines = append(lines, fmt.Sprintf("USB backup: %d days ago", st.USBDaysAgo))
	} else {
		lines = append(lines, "USB backup: Never")
	}
	lines = append(lines, "")

	switch st.Health {
	case Healthy:
		lines = append(lines, "Health: All systems healthy")
	case Warning:
		if st.HasWarning(WarnUSBOverdue) {
			lines = append(lines, "Health: USB backup overdue - plug in your backup drive!")
		}
	case Critical:
		switch {
		case st.HasWarning(WarnNoBackups):
			lines = append(lines, "Health: No backups found!")
		case st.Error != "":
			lines = append(lines, "Health: BACKUP FAILED - "+st.Error)
		default:
			lines = append(lines, "Health: Critical issue detected")
		}
	}
	return strings.Join(lines, "\n")
}

// FormatFailure renders the alert for a failed run. The stored error is
// shown as-is so someone can act on it.
func FormatFailure(rec household.BackupRecord) string {
	errText := rec.Error
	if errText == "" {
		errText = "Unknown error"
	}
	return strings.Join([]string{
		"**Backup Alert**",
		"",
		"Last night's backup failed: " + errText,
		"",
		"Action needed: Check disk space or system logs",
		"",
		"Use `/backup-status` for details",
	}, "\n")
}

// FormatUSBReminder renders the weekly nudge to plug in the drive.
func FormatUSBReminder(st Status) string {
	days := "You haven't made a USB backup yet."
	if st.USBCopied && st.USBDaysAgo > 0 {
		days = fmt.Sprintf("It's been %d days since your last USB backup.", st.USBDaysAgo)
	}
	size := st.TotalSizeHuman
	if size == "" {
		size = "unknown"
	}
	return strings.Join([]string{
		"**Weekly Backup Reminder**",
		"",
		days,
		"",
		"Plug in your backup drive to save a copy of your family's data.",
		"Current backup size: ~" + size,
	}, "\n")
}

// FormatUSBSuccess renders the copy-complete message.
func FormatUSBSuccess(r USBResult) string {
	label, file, size := r.USBLabel, r.Filename, r.Size
	if label == "" {
		label = "USB drive"
	}
	if file == "" {
		file = "backup"
	}
	if size == "" {
		size = "unknown size"
	}
	return strings.Join([]string{
		"**USB Backup Complete**",
		"",
		fmt.Sprintf("Copied latest backup to '%s' drive.", label),
		fmt.Sprintf("File: %s (%s)", file, size),
		"",
		"Safe to remove the drive.",
	}, "\n")
}

// FormatUSBError renders the copy-failed message.
func FormatUSBError(r USBResult) string {
	msg := r.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return strings.Join([]string{
		"**USB Backup Failed**",
		"",
		"Error: " + msg,
		"",
		"Please check the USB drive and try again.",
	}, "\n")
}

// Window is the weekly slot for the USB reminder.
type Window struct {
	Weekday   time.Weekday
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the window, end hour
// exclusive.
func (w Window) Contains(t time.Time) bool {
	return t.Weekday() == w.Weekday && t.Hour() >= w.StartHour && t.Hour() < w.EndHour
}
