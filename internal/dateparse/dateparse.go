// Package dateparse turns the loose date phrases people type in chat
// ("tomorrow at 9", "next friday 3pm", "in 2 hours") into times.
//
// Parsing prefers the future: a bare "6pm" typed at 7pm means tomorrow
// evening, and a bare "monday" typed on a Tuesday means next week.
package dateparse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	// ErrUnparseableTime means no date or time could be found in the text.
	ErrUnparseableTime = errors.New("no recognizable time")
	// ErrPastTime means the text resolved to a moment before now.
	ErrPastTime = errors.New("time is in the past")
)

// layouts are tried before natural language so machine-ish input from
// the model ("2026-01-02 15:00") round-trips exactly.
var layouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// pastMarkers keep an explicitly past phrase in the past so the caller
// can reject it instead of silently moving it forward.
var pastMarkers = []string{"ago", "last ", "yesterday", "today", "this morning", "earlier"}

// Parser parses phrases relative to a clock in one time zone.
type Parser struct {
	w   *when.Parser
	loc *time.Location
	now func() time.Time
}

// New creates a Parser for loc. A nil loc means time.Local.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w, loc: loc, now: time.Now}
}

// SetClock replaces the parser's clock. Tests only.
func (p *Parser) SetClock(now func() time.Time) {
	p.now = now
}

// Now returns the parser's current time in its zone.
func (p *Parser) Now() time.Time {
	return p.now().In(p.loc)
}

// Location returns the zone phrases are interpreted in.
func (p *Parser) Location() *time.Location {
	return p.loc
}

// Parse resolves text relative to now, preferring future dates.
func (p *Parser) Parse(text string) (time.Time, error) {
	return p.ParseAt(text, p.Now())
}

// ParseAt resolves text relative to base, preferring future dates.
func (p *Parser) ParseAt(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrUnparseableTime
	}
	base = base.In(p.loc)

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, p.loc); err == nil {
			return t, nil
		}
	}

	r, err := p.w.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, ErrUnparseableTime
	}
	return preferFuture(r.Time.In(p.loc), base, text), nil
}

// ParseFuture is Parse that also rejects results not after now.
func (p *Parser) ParseFuture(text string) (time.Time, error) {
	now := p.Now()
	t, err := p.ParseAt(text, now)
	if err != nil {
		return time.Time{}, err
	}
	if !t.After(now) {
		return time.Time{}, ErrPastTime
	}
	return t, nil
}

// preferFuture moves a time that landed in the recent past forward by
// a day (bare clock times) or a week (bare weekdays).
func preferFuture(t, base time.Time, text string) time.Time {
	if !t.Before(base) {
		return t
	}
	lower := strings.ToLower(text)
	for _, m := range pastMarkers {
		if strings.Contains(lower, m) {
			return t
		}
	}
	switch gap := base.Sub(t); {
	case gap < 24*time.Hour:
		return t.AddDate(0, 0, 1)
	case gap < 7*24*time.Hour:
		return t.AddDate(0, 0, 7)
	}
	return t
}

// StripReminderPrefix removes the "me to " that follows "/remind".
func StripReminderPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "me to ") {
		return strings.TrimSpace(s[6:])
	}
	return s
}
