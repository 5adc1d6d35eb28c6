package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// dispatch runs the handler registered for a command payload. Handlers
// run in their own goroutine so a slow briefing does not stall the
// client's receive loop.
func (p *Publisher) dispatch(ctx context.Context, topic string, payload []byte) {
	if topic != p.commandTopic() {
		p.logger.Debug("mqtt message on unexpected topic", "topic", topic)
		return
	}
	if !p.limiter.allow() {
		return
	}

	command := strings.TrimSpace(string(payload))
	p.mu.RLock()
	fn, ok := p.commands[command]
	p.mu.RUnlock()
	if !ok {
		p.logger.Warn("unknown mqtt command", "command", command)
		return
	}

	p.logger.Info("mqtt command received", "command", command)
	go fn(ctx)
}

// messageRateLimiter drops commands beyond limit per interval so a
// stuck automation cannot flood the family rooms.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the window every interval until ctx is cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reset()
		}
	}
}

func (r *messageRateLimiter) reset() {
	count := r.count.Swap(0)
	if dropped := r.dropped.Swap(0); dropped > 0 {
		r.logger.Warn("mqtt commands dropped due to rate limit",
			"received", count,
			"dropped", dropped,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
}

func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
