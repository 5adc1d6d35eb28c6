// Package calendar reads and writes the family calendar on a CalDAV
// server (Baikal in the reference deployment).
//
// The connection is established lazily on first use and cached. Every
// method runs in the caller's goroutine and honours its context, so a
// slow server only ever delays the request that is waiting on it.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// ErrCalendarUnavailable means no calendar could be reached or none is
// configured.
var ErrCalendarUnavailable = errors.New("calendar unavailable")

// uidDomain is appended to generated event UIDs.
const uidDomain = "memu.digital"

// Event is a calendar entry as shown to the family.
type Event struct {
	UID         string
	Summary     string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
	AllDay      bool
}

// NewEvent describes an event to create. A zero End means one hour
// after Start.
type NewEvent struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
}

// Config holds the CalDAV connection settings.
type Config struct {
	URL             string
	Username        string
	Password        string
	ConnectAttempts int
	Location        *time.Location
}

// source is the narrow view of a calendar collection the client needs.
// The CalDAV implementation lives in caldav.go.
type source interface {
	query(ctx context.Context, start, end time.Time) ([]*ical.Calendar, error)
	put(ctx context.Context, name string, cal *ical.Calendar) error
	ping(ctx context.Context) error
}

// Client is the family calendar.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	src source
}

// New creates a calendar client. No network traffic happens until the
// first call that needs the calendar.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	return &Client{
		cfg:    cfg,
		http:   httpkit.NewClient(httpkit.WithTimeout(30*time.Second), httpkit.WithLogger(logger)),
		logger: logger,
		now:    time.Now,
	}
}

// Configured reports whether a CalDAV URL was provided. cfg is fixed
// after New, so this never waits on a connect in progress.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.URL != ""
}

// Location returns the zone events are displayed in.
func (c *Client) Location() *time.Location {
	return c.cfg.Location
}

// source returns the cached calendar, connecting with a bounded
// exponential backoff when there is none yet. Failed attempts are not
// cached; the next call tries again.
func (c *Client) source(ctx context.Context) (source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.src != nil {
		return c.src, nil
	}
	if c.cfg.URL == "" {
		return nil, ErrCalendarUnavailable
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	attempt := 0
	var src source
	err := backoff.Retry(func() error {
		attempt++
		s, err := connect(ctx, c.http, c.cfg, c.logger)
		if err != nil {
			c.logger.Warn("calendar connect failed",
				"attempt", attempt, "max_attempts", c.cfg.ConnectAttempts, "error", err)
			if errors.Is(err, ErrCalendarUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		src = s
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.ConnectAttempts-1)), ctx))
	if err != nil {
		if errors.Is(err, ErrCalendarUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCalendarUnavailable, err)
	}

	c.src = src
	return src, nil
}

// IsAvailable reports whether the calendar server answers right now.
func (c *Client) IsAvailable(ctx context.Context) bool {
	src, err := c.source(ctx)
	if err != nil {
		return false
	}
	if err := src.ping(ctx); err != nil {
		c.logger.Warn("calendar service unavailable", "error", err)
		return false
	}
	return true
}

// GetEvents returns events overlapping [start, end), soonest first. A
// zero start means today at midnight; a zero end means start + 7 days.
func (c *Client) GetEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	if start.IsZero() {
		start = startOfDay(c.now().In(c.cfg.Location))
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, 7)
	}

	src, err := c.source(ctx)
	if err != nil {
		return nil, err
	}
	cals, err := src.query(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := c.decode(cals)
	sortEvents(events)
	return events, nil
}

// TodayEvents returns today's events.
func (c *Client) TodayEvents(ctx context.Context) ([]Event, error) {
	start := startOfDay(c.now().In(c.cfg.Location))
	return c.GetEvents(ctx, start, start.AddDate(0, 0, 1))
}

// UpcomingEvents returns events from today's midnight for days days.
func (c *Client) UpcomingEvents(ctx context.Context, days int) ([]Event, error) {
	start := startOfDay(c.now().In(c.cfg.Location))
	return c.GetEvents(ctx, start, start.AddDate(0, 0, days))
}

// SearchEvents finds events whose summary, description or location
// contains query (case-insensitive), from monthsBack months ago to
// three months ahead.
func (c *Client) SearchEvents(ctx context.Context, query string, monthsBack int) ([]Event, error) {
	if monthsBack <= 0 {
		monthsBack = 12
	}
	now := c.now().In(c.cfg.Location)
	events, err := c.GetEvents(ctx, now.AddDate(0, -monthsBack, 0), now.AddDate(0, 3, 0))
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var out []Event
	for _, ev := range events {
		text := strings.ToLower(ev.Summary + " " + ev.Description + " " + ev.Location)
		if strings.Contains(text, q) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// AddEvent creates an event and returns its UID.
func (c *Client) AddEvent(ctx context.Context, ev NewEvent) (string, error) {
	if strings.TrimSpace(ev.Summary) == "" {
		return "", errors.New("event summary is required")
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}

	src, err := c.source(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	uid := id + "@" + uidDomain
	cal := encodeEvent(uid, ev, c.now())
	if err := src.put(ctx, id+".ics", cal); err != nil {
		return "", fmt.Errorf("create event %q: %w", ev.Summary, err)
	}

	c.logger.Info("calendar event created", "summary", ev.Summary, "start", ev.Start, "uid", uid)
	return uid, nil
}

func (c *Client) decode(cals []*ical.Calendar) []Event {
	var events []Event
	for _, cal := range cals {
		for _, vevent := range cal.Events() {
			ev, err := decodeEvent(vevent, c.cfg.Location)
			if err != nil {
				c.logger.Warn("skipping unparseable event", "error", err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
