// Package chathistory searches and reads back a room's past messages.
//
// Search prefers the homeserver's full-text /search endpoint. Servers
// that do not implement it (or fail) are handled by paging /messages
// backwards and matching substrings locally.
package chathistory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memu-digital/memu-bot/internal/matrix"
)

// Source is the subset of the Matrix client the history reader needs.
type Source interface {
	Search(ctx context.Context, roomID, term string, limit int) ([]matrix.SearchResult, error)
	RoomMessages(ctx context.Context, roomID string, opts matrix.RoomMessagesOptions) (*matrix.RoomMessagesResponse, error)
}

// Hit is one matching message.
type Hit struct {
	EventID string
	Sender  string
	Body    string
	SentAt  time.Time
}

const (
	defaultPageSize = 100
	defaultMaxPages = 5
)

// Searcher finds past messages in a room.
type Searcher struct {
	src      Source
	logger   *slog.Logger
	pageSize int
	maxPages int

	mu    sync.RWMutex
	botID string
}

// New creates a Searcher. botID's messages never appear in results.
func New(src Source, botID string, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		src:      src,
		botID:    botID,
		logger:   logger,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
}

// SetBotID updates the identity filtered from results once the server
// has confirmed it.
func (s *Searcher) SetBotID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botID = id
}

func (s *Searcher) self() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botID
}

// Search returns up to limit messages in roomID containing query,
// newest first. Slash commands and the bot's own messages are skipped.
func (s *Searcher) Search(ctx context.Context, roomID, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	results, err := s.src.Search(ctx, roomID, query, limit*2)
	if err == nil {
		hits := make([]Hit, 0, len(results))
		for _, r := range results {
			if h, ok := s.hit(r.Result); ok {
				hits = append(hits, h)
			}
		}
		return newestFirst(hits, limit), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if matrix.IsMatrixError(err, matrix.ErrCodeUnrecognized) {
		s.logger.Debug("server search unsupported, scanning history", "room", roomID)
	} else {
		s.logger.Warn("server search failed, scanning history", "room", roomID, "error", err)
	}
	return s.scan(ctx, roomID, query, limit)
}

// scan pages /messages backwards and filters locally.
func (s *Searcher) scan(ctx context.Context, roomID, query string, limit int) ([]Hit, error) {
	needle := strings.ToLower(query)
	var hits []Hit
	from := ""
	for page := 0; page < s.maxPages && len(hits) < limit; page++ {
		resp, err := s.src.RoomMessages(ctx, roomID, matrix.RoomMessagesOptions{From: from, Direction: "b", Limit: s.pageSize})
		if err != nil {
			if len(hits) > 0 {
				s.logger.Warn("history scan cut short", "room", roomID, "page", page, "error", err)
				break
			}
			return nil, err
		}
		for _, ev := range resp.Chunk {
			h, ok := s.hit(ev)
			if ok && strings.Contains(strings.ToLower(h.Body), needle) {
				hits = append(hits, h)
			}
		}
		if resp.End == "" || resp.End == from || len(resp.Chunk) == 0 {
			break
		}
		from = resp.End
	}
	return newestFirst(hits, limit), nil
}

// Recent returns the text messages among the last limit events of a
// room, oldest first, for summaries. The bot's own messages and commands
// are skipped.
func (s *Searcher) Recent(ctx context.Context, roomID string, limit int) ([]Hit, error) {
	resp, err := s.src.RoomMessages(ctx, roomID, matrix.RoomMessagesOptions{Direction: "b", Limit: limit})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Chunk))
	for i := len(resp.Chunk) - 1; i >= 0; i-- {
		if h, ok := s.hit(resp.Chunk[i]); ok {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

// Transcript renders hits as "sender: body" lines.
func Transcript(hits []Hit) string {
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = h.Sender + ": " + h.Body
	}
	return strings.Join(lines, "\n")
}

func (s *Searcher) hit(ev matrix.Event) (Hit, bool) {
	content, ok := ev.Text()
	if !ok {
		return Hit{}, false
	}
	body := strings.TrimSpace(content.Body)
	if body == "" || strings.HasPrefix(body, "/") || matrix.SameUser(ev.Sender, s.self()) {
		return Hit{}, false
	}
	return Hit{EventID: ev.EventID, Sender: ev.Sender, Body: body, SentAt: ev.Timestamp()}, true
}

func newestFirst(hits []Hit, limit int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].SentAt.After(hits[j].SentAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
