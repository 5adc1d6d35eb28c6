package household

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Fact is a free-text statement a household member asked Memu to keep.
// Facts are never edited; the same text may be remembered twice.
type Fact struct {
	ID        int64
	RoomID    string
	Text      string
	Author    string
	CreatedAt time.Time
}

// AddFact stores text for roomID.
func (s *Store) AddFact(ctx context.Context, roomID, text, author string) (Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fact{}, fmt.Errorf("add fact: empty text")
	}

	f := Fact{RoomID: roomID, Text: text, Author: author, CreatedAt: s.now()}
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO household_memory (room_id, fact, created_by, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`),
		roomID, text, author, toMillis(f.CreatedAt),
	).Scan(&f.ID)
	if err != nil {
		return Fact{}, fmt.Errorf("add fact: %w", err)
	}
	return f, nil
}

// SearchFacts returns facts in roomID whose text contains query
// (case-insensitive), most recent first.
func (s *Store) SearchFacts(ctx context.Context, roomID, query string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, room_id, fact, created_by, created_at
		 FROM household_memory
		 WHERE room_id = $1 AND LOWER(fact) LIKE $2 ESCAPE '\'
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`),
		roomID, containsPattern(query), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var (
			f       Fact
			created int64
		)
		if err := rows.Scan(&f.ID, &f.RoomID, &f.Text, &f.Author, &created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.CreatedAt = fromMillis(created)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
