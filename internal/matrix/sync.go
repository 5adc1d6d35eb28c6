package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// syncFilter limits /sync to what the bot reads: room messages in the
// timeline and invites. Presence and account data are dropped.
var syncFilter = mustFilter(map[string]any{
	"presence":     map[string]any{"types": []string{}},
	"account_data": map[string]any{"types": []string{}},
	"room": map[string]any{
		"timeline":     map[string]any{"types": []string{"m.room.message"}, "limit": 50},
		"state":        map[string]any{"lazy_load_members": true},
		"ephemeral":    map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	},
})

func mustFilter(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// SyncerConfig holds the dependencies for a Syncer.
type SyncerConfig struct {
	Client   *Client
	Logger   *slog.Logger
	Timeout  time.Duration // long-poll hold time; default 30s
	AutoJoin bool          // accept room invites
}

// Syncer long-polls /sync and pushes inbound text messages to a
// channel. Messages that were already in the timeline at startup are
// not delivered.
type Syncer struct {
	client   *Client
	logger   *slog.Logger
	timeout  time.Duration
	autoJoin bool
	now      func() time.Time

	messages  chan *Message
	ready     chan struct{}
	readyOnce sync.Once
	nextBatch string
}

// NewSyncer creates a Syncer. Call Run to start it.
func NewSyncer(cfg SyncerConfig) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Syncer{
		client:   cfg.Client,
		logger:   logger,
		timeout:  timeout,
		autoJoin: cfg.AutoJoin,
		now:      time.Now,
		messages: make(chan *Message, 64),
		ready:    make(chan struct{}),
	}
}

// Messages returns the inbound message channel. It is closed when Run
// returns.
func (s *Syncer) Messages() <-chan *Message {
	return s.messages
}

// Ready is closed once the initial sync has completed.
func (s *Syncer) Ready() <-chan struct{} {
	return s.ready
}

// Run syncs until ctx is cancelled or the access token is rejected.
// Transient failures are retried with exponential backoff.
func (s *Syncer) Run(ctx context.Context) error {
	defer close(s.messages)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = time.Second
	retry.MaxInterval = time.Minute
	retry.MaxElapsedTime = 0

	s.logger.Info("matrix sync started")
	for {
		timeout := s.timeout
		if s.nextBatch == "" {
			timeout = 0
		}
		resp, err := s.client.Sync(ctx, SyncOptions{Since: s.nextBatch, Timeout: timeout, Filter: syncFilter})
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("matrix sync stopped")
				return nil
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				return fmt.Errorf("access token rejected: %w", err)
			}
			wait := retry.NextBackOff()
			s.logger.Warn("matrix sync failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		initial := s.nextBatch == ""
		s.nextBatch = resp.NextBatch
		s.handleInvites(ctx, resp)
		if initial {
			s.logger.Info("matrix initial sync complete", "joined_rooms", len(resp.Rooms.Join))
			s.readyOnce.Do(func() { close(s.ready) })
			continue
		}
		if !s.deliver(ctx, resp) {
			return nil
		}
	}
}

func (s *Syncer) handleInvites(ctx context.Context, resp *SyncResponse) {
	for roomID := range resp.Rooms.Invite {
		if !s.autoJoin {
			s.logger.Debug("ignoring room invite", "room", roomID)
			continue
		}
		if _, err := s.client.JoinRoom(ctx, roomID); err != nil {
			s.logger.Warn("auto-join failed", "room", roomID, "error", err)
			continue
		}
		s.logger.Info("joined room on invite", "room", roomID)
	}
}

// deliver pushes text messages in timeline order. It returns false if
// ctx ended while the channel was full.
func (s *Syncer) deliver(ctx context.Context, resp *SyncResponse) bool {
	received := s.now()
	for roomID, room := range resp.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			content, ok := ev.Text()
			if !ok {
				continue
			}
			msg := &Message{
				RoomID:   roomID,
				EventID:  ev.EventID,
				Sender:   ev.Sender,
				Body:     content.Body,
				SentAt:   ev.Timestamp(),
				Received: received,
			}
			select {
			case s.messages <- msg:
			case <-ctx.Done():
				return false
			}
		}
	}
	return true
}

// ErrNotReady is returned by WaitReady when ctx ends first.
var ErrNotReady = errors.New("matrix sync not ready")

// WaitReady blocks until the initial sync completes.
func (s *Syncer) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ErrNotReady
	}
}
