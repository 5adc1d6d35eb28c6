package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BackupStatus is the outcome of one backup run.
type BackupStatus string

const (
	BackupSuccess    BackupStatus = "success"
	BackupFailed     BackupStatus = "failed"
	BackupInProgress BackupStatus = "in_progress"
)

// ParseBackupStatus validates a status string.
func ParseBackupStatus(s string) (BackupStatus, bool) {
	switch BackupStatus(s) {
	case BackupSuccess, BackupFailed, BackupInProgress:
		return BackupStatus(s), true
	}
	return "", false
}

// BackupRecord is one row written by the nightly backup job.
type BackupRecord struct {
	ID               int64
	Filename         string
	SizeBytes        int64
	Status           BackupStatus
	Error            string
	DurationSeconds  int
	USBCopiedAt      time.Time // zero if never copied
	NotificationSent bool
	CreatedAt        time.Time
}

// BackupStats summarizes the whole history.
type BackupStats struct {
	Count      int
	TotalBytes int64
	LastUSB    time.Time // zero if no backup was ever copied
}

// RecordBackup inserts a backup run. CreatedAt defaults to now.
func (s *Store) RecordBackup(ctx context.Context, rec BackupRecord) (BackupRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if _, ok := ParseBackupStatus(string(rec.Status)); !ok {
		return BackupRecord{}, fmt.Errorf("record backup: invalid status %q", rec.Status)
	}

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO backup_history
		 (filename, size_bytes, status, error, duration_seconds, notification_sent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`),
		rec.Filename, rec.SizeBytes, string(rec.Status), errText,
		rec.DurationSeconds, false, toMillis(rec.CreatedAt),
	).Scan(&rec.ID)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("record backup: %w", err)
	}
	return rec, nil
}

// LatestBackup returns the most recent record, or [ErrNotFound].
func (s *Store) LatestBackup(ctx context.Context) (BackupRecord, error) {
	recs, err := s.queryBackups(ctx,
		`SELECT id, filename, size_bytes, status, error, duration_seconds,
		        usb_copied_at, notification_sent, created_at
		 FROM backup_history
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("latest backup: %w", err)
	}
	if len(recs) == 0 {
		return BackupRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// LatestSuccessfulBackup returns the most recent successful record, or
// [ErrNotFound].
func (s *Store) LatestSuccessfulBackup(ctx context.Context) (BackupRecord, error) {
	recs, err := s.queryBackups(ctx, s.q(
		`SELECT id, filename, size_bytes, status, error, duration_seconds,
		        usb_copied_at, notification_sent, created_at
		 FROM backup_history
		 WHERE status = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`), string(BackupSuccess))
	if err != nil {
		return BackupRecord{}, fmt.Errorf("latest successful backup: %w", err)
	}
	if len(recs) == 0 {
		return BackupRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// BackupStats counts successful backups, their total size and the most
// recent USB copy.
func (s *Store) BackupStats(ctx context.Context) (BackupStats, error) {
	var (
		st      BackupStats
		total   sql.NullInt64
		lastUSB sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), SUM(size_bytes), MAX(usb_copied_at)
		 FROM backup_history WHERE status = $1`), string(BackupSuccess),
	).Scan(&st.Count, &total, &lastUSB)
	if err != nil {
		return BackupStats{}, fmt.Errorf("backup stats: %w", err)
	}
	st.TotalBytes = total.Int64
	st.LastUSB = nullMillis(lastUSB)
	return st, nil
}

// UnnotifiedFailures returns failed runs nobody has been told about,
// oldest first.
func (s *Store) UnnotifiedFailures(ctx context.Context) ([]BackupRecord, error) {
	recs, err := s.queryBackups(ctx, s.q(
		`SELECT id, filename, size_bytes, status, error, duration_seconds,
		        usb_copied_at, notification_sent, created_at
		 FROM backup_history
		 WHERE status = $1 AND notification_sent = $2
		 ORDER BY created_at ASC, id ASC`),
		string(BackupFailed), false,
	)
	if err != nil {
		return nil, fmt.Errorf("unnotified failures: %w", err)
	}
	return recs, nil
}

// MarkBackupNotified records that a failure was announced. It is a no-op
// returning [ErrNotFound] when the record was already marked, so a
// record is announced at most once.
func (s *Store) MarkBackupNotified(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE backup_history SET notification_sent = $1 WHERE id = $2 AND notification_sent = $3`),
		true, id, false,
	)
	if err != nil {
		return fmt.Errorf("mark backup %d notified: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUSBCopied stamps the record with the time it reached a USB drive.
func (s *Store) MarkUSBCopied(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE backup_history SET usb_copied_at = $1 WHERE id = $2`),
		toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("mark backup %d usb copied: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) queryBackups(ctx context.Context, query string, args ...any) ([]BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		var (
			r       BackupRecord
			status  string
			errText sql.NullString
			usb     sql.NullInt64
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Filename, &r.SizeBytes, &status, &errText,
			&r.DurationSeconds, &usb, &r.NotificationSent, &created); err != nil {
			return nil, err
		}
		r.Status = BackupStatus(status)
		r.Error = errText.String
		r.USBCopiedAt = nullMillis(usb)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsNotFound reports whether err is [ErrNotFound].
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
