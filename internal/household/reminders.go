package household

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Reminder is a one-shot alert delivered to a room once DueAt passes.
// Processed flips to true exactly once and never back.
type Reminder struct {
	ID        int64
	RoomID    string
	UserID    string
	Content   string
	DueAt     time.Time
	CreatedAt time.Time
	Processed bool
}

// AddReminder stores a pending reminder and returns it with its ID.
func (s *Store) AddReminder(ctx context.Context, roomID, userID, content string, dueAt time.Time) (Reminder, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Reminder{}, fmt.Errorf("add reminder: empty content")
	}

	r := Reminder{
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		DueAt:     dueAt,
		CreatedAt: s.now(),
	}
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO reminders (room_id, user_id, content, due_at, created_at, processed)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`),
		roomID, userID, content, toMillis(dueAt), toMillis(r.CreatedAt), false,
	).Scan(&r.ID)
	if err != nil {
		return Reminder{}, fmt.Errorf("add reminder: %w", err)
	}
	return r, nil
}

// DueReminders returns unprocessed reminders with due_at at or before
// now, earliest first.
func (s *Store) DueReminders(ctx context.Context, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, room_id, user_id, content, due_at, created_at
		 FROM reminders
		 WHERE processed = $1 AND due_at <= $2
		 ORDER BY due_at ASC, id ASC`),
		false, toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r            Reminder
			due, created int64
		)
		if err := rows.Scan(&r.ID, &r.RoomID, &r.UserID, &r.Content, &due, &created); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.DueAt = fromMillis(due)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkReminderProcessed flips the processed flag. Already processed
// reminders are left alone and reported as [ErrNotFound].
func (s *Store) MarkReminderProcessed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE reminders SET processed = $1 WHERE id = $2 AND processed = $3`),
		true, id, false,
	)
	if err != nil {
		return fmt.Errorf("mark reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reminder %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingReminderCount returns how many reminders have not fired yet.
func (s *Store) PendingReminderCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM reminders WHERE processed = $1`), false,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reminders: %w", err)
	}
	return n, nil
}
