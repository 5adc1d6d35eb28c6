package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/memu-digital/memu-bot/internal/household"
)

// configReport is what check-config prints.
type configReport struct {
	Path     string          `json:"path"`
	Valid    bool            `json:"valid"`
	Problems []string        `json:"problems,omitempty"`
	Features map[string]bool `json:"features"`
}

// runCheckConfig loads and validates the configuration without touching
// any service. It fails when the configuration is invalid so it can gate
// a deploy.
func runCheckConfig(w io.Writer, configPath, outputFmt string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	report := configReport{
		Path:  cfgPath,
		Valid: true,
		Features: map[string]bool{
			"ai":       cfg.AI.Enabled,
			"calendar": cfg.Calendar.URL != "",
			"photos":   cfg.Photos.URL != "" && cfg.Photos.APIKey != "",
			"briefing": cfg.Briefing.Enabled,
			"weather":  cfg.Weather.APIKey != "" && cfg.Weather.City != "",
			"backup":   cfg.Backup.Enabled,
			"mqtt":     cfg.MQTT.Configured(),
			"admin":    cfg.Listen.Port > 0,
		},
	}
	verr := cfg.Validate()
	if verr != nil {
		report.Valid = false
		report.Problems = splitJoined(verr)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "config: %s\n", report.Path)
		for _, name := range []string{"ai", "calendar", "photos", "briefing", "weather", "backup", "mqtt", "admin"} {
			state := "off"
			if report.Features[name] {
				state = "on"
			}
			fmt.Fprintf(w, "  %-10s %s\n", name+":", state)
		}
		for _, p := range report.Problems {
			fmt.Fprintf(w, "  problem: %s\n", p)
		}
		if report.Valid {
			fmt.Fprintln(w, "configuration OK")
		}
	}

	if verr != nil {
		return fmt.Errorf("invalid config: %d problem(s)", len(report.Problems))
	}
	return nil
}

// splitJoined flattens an errors.Join result into its messages.
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

// runClearList deletes a room's list items. With -done only completed
// items go; pending items are never touched.
func runClearList(ctx context.Context, w io.Writer, configPath string, args []string) error {
	var roomID string
	completedOnly := false
	for _, a := range args {
		switch {
		case a == "-done" || a == "--done":
			completedOnly = true
		case roomID == "" && !strings.HasPrefix(a, "-"):
			roomID = a
		default:
			return fmt.Errorf("usage: memu clear-list <room-id> [-done]")
		}
	}
	if roomID == "" {
		return fmt.Errorf("usage: memu clear-list <room-id> [-done]")
	}

	store, err := openConfiguredStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearList(ctx, roomID, completedOnly)
	if err != nil {
		return fmt.Errorf("clear list: %w", err)
	}
	fmt.Fprintf(w, "Deleted %d item(s) from %s\n", n, roomID)
	return nil
}

// runRecordBackup stores one backup run. The nightly backup job calls it
// after every attempt:
//
//	memu record-backup success memu-2026-01-01.tar.gz 123456 42
//	memu record-backup failed memu-2026-01-01.tar.gz 0 3 disk full
func runRecordBackup(ctx context.Context, w io.Writer, configPath string, args []string) error {
	rec, err := parseBackupArgs(args)
	if err != nil {
		return err
	}

	store, err := openConfiguredStore(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	saved, err := store.RecordBackup(ctx, rec)
	if err != nil {
		return fmt.Errorf("record backup: %w", err)
	}
	fmt.Fprintf(w, "Recorded backup %d (%s, %s)\n", saved.ID, saved.Filename, saved.Status)
	return nil
}

const recordBackupUsage = "usage: memu record-backup <success|failed|in_progress> <filename> [size_bytes] [duration_seconds] [error...]"

func parseBackupArgs(args []string) (household.BackupRecord, error) {
	if len(args) < 2 {
		return household.BackupRecord{}, errors.New(recordBackupUsage)
	}
	status, ok := household.ParseBackupStatus(args[0])
	if !ok {
		return household.BackupRecord{}, fmt.Errorf("unknown backup status %q\n%s", args[0], recordBackupUsage)
	}
	rec := household.BackupRecord{Filename: args[1], Status: status}
	if len(args) > 2 {
		size, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || size < 0 {
			return household.BackupRecord{}, fmt.Errorf("invalid size %q", args[2])
		}
		rec.SizeBytes = size
	}
	if len(args) > 3 {
		secs, err := strconv.Atoi(args[3])
		if err != nil || secs < 0 {
			return household.BackupRecord{}, fmt.Errorf("invalid duration %q", args[3])
		}
		rec.DurationSeconds = secs
	}
	if len(args) > 4 {
		rec.Error = strings.Join(args[4:], " ")
	}
	return rec, nil
}

// openConfiguredStore is openStore for the one-shot subcommands, which
// only need the database section to be usable.
func openConfiguredStore(configPath string) (*household.Store, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Database.DataSource() == "" {
		return nil, errors.New("database connection is not configured")
	}
	return openStore(cfg)
}

