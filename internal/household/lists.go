package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListItem is one entry on a room's shared list.
type ListItem struct {
	ID          int64
	RoomID      string
	Item        string
	AddedBy     string
	AddedAt     time.Time
	Completed   bool
	CompletedAt time.Time // zero while pending
}

// AddListItems inserts every non-blank item in one transaction and
// returns how many were added. Either all items land or none do.
func (s *Store) AddListItems(ctx context.Context, roomID, addedBy string, items []string) (int, error) {
	var clean []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			clean = append(clean, it)
		}
	}
	if len(clean) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add items: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO shared_lists (room_id, item, added_by, added_at, completed)
		 VALUES ($1, $2, $3, $4, $5)`))
	if err != nil {
		return 0, fmt.Errorf("prepare add items: %w", err)
	}
	defer stmt.Close()

	now := toMillis(s.now())
	for _, it := range clean {
		if _, err := stmt.ExecContext(ctx, roomID, it, addedBy, now, false); err != nil {
			return 0, fmt.Errorf("add item %q: %w", it, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add items: %w", err)
	}
	return len(clean), nil
}

// ListItems returns a room's pending items (oldest first) and its
// completed items (most recently completed first, at most
// completedLimit; zero means no limit).
func (s *Store) ListItems(ctx context.Context, roomID string, completedLimit int) (pending, completed []ListItem, err error) {
	pending, err = s.queryItems(ctx, s.q(
		`SELECT id, room_id, item, added_by, added_at, completed, completed_at
		 FROM shared_lists
		 WHERE room_id = $1 AND completed = $2
		 ORDER BY added_at ASC, id ASC`),
		roomID, false,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("pending items: %w", err)
	}

	query := `SELECT id, room_id, item, added_by, added_at, completed, completed_at
		 FROM shared_lists
		 WHERE room_id = $1 AND completed = $2
		 ORDER BY completed_at DESC, id DESC`
	args := []any{roomID, true}
	if completedLimit > 0 {
		query += ` LIMIT $3`
		args = append(args, completedLimit)
	}
	completed, err = s.queryItems(ctx, s.q(query), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("completed items: %w", err)
	}
	return pending, completed, nil
}

// SearchListItems returns items (pending or completed) in roomID whose
// text contains query, most recently added first.
func (s *Store) SearchListItems(ctx context.Context, roomID, query string, limit int) ([]ListItem, error) {
	if limit <= 0 {
		limit = 10
	}
	items, err := s.queryItems(ctx, s.q(
		`SELECT id, room_id, item, added_by, added_at, completed, completed_at
		 FROM shared_lists
		 WHERE room_id = $1 AND LOWER(item) LIKE $2 ESCAPE '\'
		 ORDER BY added_at DESC, id DESC
		 LIMIT $3`),
		roomID, containsPattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search items: %w", err)
	}
	return items, nil
}

// MarkDone completes the oldest pending item in roomID whose text
// contains query (case-insensitive). Returns [ErrNotFound] when nothing
// pending matches.
func (s *Store) MarkDone(ctx context.Context, roomID, query string) (ListItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return ListItem{}, ErrNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ListItem{}, fmt.Errorf("begin mark done: %w", err)
	}
	defer tx.Rollback()

	var (
		item  ListItem
		added int64
	)
	err = tx.QueryRowContext(ctx, s.q(
		`SELECT id, room_id, item, added_by, added_at
		 FROM shared_lists
		 WHERE room_id = $1 AND completed = $2 AND LOWER(item) LIKE $3 ESCAPE '\'
		 ORDER BY added_at ASC, id ASC
		 LIMIT 1`),
		roomID, false, containsPattern(query),
	).Scan(&item.ID, &item.RoomID, &item.Item, &item.AddedBy, &added)
	if errors.Is(err, sql.ErrNoRows) {
		return ListItem{}, ErrNotFound
	}
	if err != nil {
		return ListItem{}, fmt.Errorf("find item: %w", err)
	}
	item.AddedAt = fromMillis(added)

	item.CompletedAt = s.now()
	item.Completed = true
	if _, err := tx.ExecContext(ctx, s.q(
		`UPDATE shared_lists SET completed = $1, completed_at = $2 WHERE id = $3`),
		true, toMillis(item.CompletedAt), item.ID,
	); err != nil {
		return ListItem{}, fmt.Errorf("mark item done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ListItem{}, fmt.Errorf("commit mark done: %w", err)
	}
	return item, nil
}

// ClearList deletes list items. With roomID empty every room is
// cleared; with completedOnly only finished items go. This is a
// maintenance operation, not a chat command.
func (s *Store) ClearList(ctx context.Context, roomID string, completedOnly bool) (int64, error) {
	query := `DELETE FROM shared_lists WHERE 1 = 1`
	var args []any
	if roomID != "" {
		args = append(args, roomID)
		query += fmt.Sprintf(` AND room_id = $%d`, len(args))
	}
	if completedOnly {
		args = append(args, true)
		query += fmt.Sprintf(` AND completed = $%d`, len(args))
	}

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("clear list: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]ListItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var (
			it        ListItem
			added     int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&it.ID, &it.RoomID, &it.Item, &it.AddedBy, &added, &it.Completed, &completed); err != nil {
			return nil, err
		}
		it.AddedAt = fromMillis(added)
		it.CompletedAt = nullMillis(completed)
		items = append(items, it)
	}
	return items, rows.Err()
}
