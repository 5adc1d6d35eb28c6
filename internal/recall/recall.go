// Package recall answers "what do we know about X" by asking every data
// silo at once (saved facts and list items, chat history, calendar,
// photo library) and either listing what came back or asking the model
// to tie it together.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/chathistory"
	"github.com/memu-digital/memu-bot/internal/household"
	"github.com/memu-digital/memu-bot/internal/metrics"
	"github.com/memu-digital/memu-bot/internal/photos"
)

// Silo names, used in logs and metrics.
const (
	SiloFacts    = "facts"
	SiloChat     = "chat"
	SiloCalendar = "calendar"
	SiloPhotos   = "photos"
)

// FactSource searches saved facts and the shopping list.
type FactSource interface {
	SearchFacts(ctx context.Context, roomID, query string, limit int) ([]household.Fact, error)
	SearchListItems(ctx context.Context, roomID, query string, limit int) ([]household.ListItem, error)
}

// ChatSource searches a room's message history.
type ChatSource interface {
	Search(ctx context.Context, roomID, query string, limit int) ([]chathistory.Hit, error)
}

// CalendarSource searches calendar events by keyword.
type CalendarSource interface {
	SearchEvents(ctx context.Context, query string, monthsBack int) ([]calendar.Event, error)
}

// PhotoSource runs a semantic photo search.
type PhotoSource interface {
	Search(ctx context.Context, query string, limit int) ([]photos.Asset, error)
}

// Synthesizer is the model side of recall. Both methods return "" when
// the model is unavailable.
type Synthesizer interface {
	SynthesizeCrossSilo(ctx context.Context, query, digest string) string
	Summarize(ctx context.Context, text string) string
}

// Config tunes the engine. Zero values take the defaults noted.
type Config struct {
	SiloTimeout        time.Duration // 10s
	SynthesisThreshold int           // 2 silos
	SummaryThreshold   int           // 1500 characters
	FactLimit          int           // 10
	ChatLimit          int           // 10
	PhotoLimit         int           // 20
	CalendarMonthsBack int           // 12
}

func (c Config) withDefaults() Config {
	if c.SiloTimeout <= 0 {
		c.SiloTimeout = 10 * time.Second
	}
	if c.SynthesisThreshold <= 0 {
		c.SynthesisThreshold = 2
	}
	if c.SummaryThreshold <= 0 {
		c.SummaryThreshold = 1500
	}
	if c.FactLimit <= 0 {
		c.FactLimit = 10
	}
	if c.ChatLimit <= 0 {
		c.ChatLimit = 10
	}
	if c.PhotoLimit <= 0 {
		c.PhotoLimit = 20
	}
	if c.CalendarMonthsBack <= 0 {
		c.CalendarMonthsBack = 12
	}
	return c
}

// Sources bundles the silos. Any of them may be nil, which makes that
// silo always empty.
type Sources struct {
	Facts    FactSource
	Chat     ChatSource
	Calendar CalendarSource
	Photos   PhotoSource
}

// Engine runs cross-silo recall.
type Engine struct {
	src    Sources
	brain  Synthesizer
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine.
func New(src Sources, brain Synthesizer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{src: src, brain: brain, cfg: cfg.withDefaults(), logger: logger}
}

// Results holds what each silo returned. Facts, Items and Chat are
// newest first; Events are soonest first.
type Results struct {
	Facts  []household.Fact
	Items  []household.ListItem
	Chat   []chathistory.Hit
	Events []calendar.Event
	Photos []photos.Asset
}

// HitSilos counts the silos that returned anything. Facts and list
// items are one silo.
func (r Results) HitSilos() int {
	n := 0
	if len(r.Facts) > 0 || len(r.Items) > 0 {
		n++
	}
	if len(r.Chat) > 0 {
		n++
	}
	if len(r.Events) > 0 {
		n++
	}
	if len(r.Photos) > 0 {
		n++
	}
	return n
}

// Answer is the outcome of a recall.
type Answer struct {
	Text        string
	Results     Results
	Synthesized bool
	Condensed   bool
}

// Recall gathers from every silo and composes the chat reply.
func (e *Engine) Recall(ctx context.Context, roomID, query string) Answer {
	res := e.Gather(ctx, roomID, query)
	ans := Answer{Results: res}

	hits := res.HitSilos()
	switch {
	case hits == 0:
		ans.Text = NothingFound(query)
		return ans
	case hits >= e.cfg.SynthesisThreshold && e.brain != nil:
		if text := e.brain.SynthesizeCrossSilo(ctx, query, Digest(res)); text != "" {
			ans.Text = "💡 " + text
			ans.Synthesized = true
		}
	}
	if ans.Text == "" {
		ans.Text = FormatDirect(query, res)
	}

	if utf8.RuneCountInString(ans.Text) > e.cfg.SummaryThreshold && e.brain != nil {
		if short := e.brain.Summarize(ctx, ans.Text); short != "" {
			ans.Text = "💡 " + short
			ans.Condensed = true
		}
	}
	return ans
}

// Gather queries all silos concurrently. Each silo has its own timeout;
// a silo that errors, times out or panics contributes nothing.
func (e *Engine) Gather(ctx context.Context, roomID, query string) Results {
	var (
		res Results
		wg  sync.WaitGroup
	)

	run := func(silo string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runSilo(ctx, silo, fn)
		}()
	}

	if e.src.Facts != nil {
		run(SiloFacts, func(ctx context.Context) error {
			facts, err := e.src.Facts.SearchFacts(ctx, roomID, query, e.cfg.FactLimit)
			if err != nil {
				return err
			}
			items, err := e.src.Facts.SearchListItems(ctx, roomID, query, e.cfg.FactLimit)
			if err != nil {
				return err
			}
			res.Facts, res.Items = facts, items
			return nil
		})
	}
	if e.src.Chat != nil {
		run(SiloChat, func(ctx context.Context) error {
			hits, err := e.src.Chat.Search(ctx, roomID, query, e.cfg.ChatLimit)
			if err != nil {
				return err
			}
			res.Chat = hits
			return nil
		})
	}
	if e.src.Calendar != nil {
		run(SiloCalendar, func(ctx context.Context) error {
			events, err := e.src.Calendar.SearchEvents(ctx, query, e.cfg.CalendarMonthsBack)
			if err != nil {
				return err
			}
			res.Events = events
			return nil
		})
	}
	if e.src.Photos != nil {
		run(SiloPhotos, func(ctx context.Context) error {
			assets, err := e.src.Photos.Search(ctx, query, e.cfg.PhotoLimit)
			if err != nil {
				return err
			}
			res.Photos = assets
			return nil
		})
	}

	wg.Wait()
	return res
}

// runSilo runs fn under the silo timeout. Each fn writes only its own
// Results fields and only on success.
func (e *Engine) runSilo(ctx context.Context, silo string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SiloTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	metrics.SiloDuration.WithLabelValues(silo).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SiloErrors.WithLabelValues(silo).Inc()
		e.logger.Warn("recall silo failed", "silo", silo, "error", err, "elapsed", time.Since(start))
	}
}
