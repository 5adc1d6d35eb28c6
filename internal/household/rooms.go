package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Mode is a room's assistant mode. It gates natural-language handling
// only; slash commands always run.
type Mode string

const (
	// ModeOff ignores everything that is not a slash command.
	ModeOff Mode = "off"
	// ModeQuiet answers only when the bot is mentioned.
	ModeQuiet Mode = "quiet"
	// ModeActive answers every message in direct chats and mentions
	// elsewhere.
	ModeActive Mode = "active"
)

// DefaultMode applies to rooms with no stored setting.
const DefaultMode = ModeActive

// ParseMode parses a user-supplied mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff:
		return ModeOff, true
	case ModeQuiet:
		return ModeQuiet, true
	case ModeActive:
		return ModeActive, true
	}
	return "", false
}

// RoomMode returns the stored mode for roomID, or [DefaultMode].
func (s *Store) RoomMode(ctx context.Context, roomID string) (Mode, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT ai_mode FROM room_settings WHERE room_id = $1`), roomID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultMode, nil
	}
	if err != nil {
		return DefaultMode, fmt.Errorf("room mode %s: %w", roomID, err)
	}
	if m, ok := ParseMode(raw); ok {
		return m, nil
	}
	return DefaultMode, nil
}

// SetRoomMode upserts the mode for roomID.
func (s *Store) SetRoomMode(ctx context.Context, roomID string, mode Mode) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO room_settings (room_id, ai_mode, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (room_id) DO UPDATE
		 SET ai_mode = excluded.ai_mode, updated_at = excluded.updated_at`),
		roomID, string(mode), toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("set room mode %s: %w", roomID, err)
	}
	return nil
}

// RoomModes returns every stored room mode, for warming the router's
// cache at startup.
func (s *Store) RoomModes(ctx context.Context) (map[string]Mode, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT room_id, ai_mode FROM room_settings`)
	if err != nil {
		return nil, fmt.Errorf("room modes: %w", err)
	}
	defer rows.Close()

	modes := make(map[string]Mode)
	for rows.Next() {
		var room, raw string
		if err := rows.Scan(&room, &raw); err != nil {
			return nil, fmt.Errorf("scan room mode: %w", err)
		}
		if m, ok := ParseMode(raw); ok {
			modes[room] = m
		}
	}
	return modes, rows.Err()
}
