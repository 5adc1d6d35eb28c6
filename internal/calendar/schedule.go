package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/brain"
	"github.com/memu-digital/memu-bot/internal/dateparse"
)

// EventExtractor pulls event fields out of free text.
type EventExtractor interface {
	ExtractCalendarEvent(ctx context.Context, text string) brain.EventFields
}

// EventAdder creates calendar events.
type EventAdder interface {
	AddEvent(ctx context.Context, ev NewEvent) (string, error)
}

// Scheduler turns "dentist on friday at 3pm" into a calendar event.
type Scheduler struct {
	extract EventExtractor
	adder   EventAdder
	dates   *dateparse.Parser
}

// NewScheduler wires the natural-language scheduling pipeline.
func NewScheduler(extract EventExtractor, adder EventAdder, dates *dateparse.Parser) *Scheduler {
	return &Scheduler{extract: extract, adder: adder, dates: dates}
}

// ScheduleFromText extracts, resolves and creates an event. The start is
// parsed from the extracted date and time together, or from the raw text
// when that fails. Errors are dateparse.ErrUnparseableTime,
// dateparse.ErrPastTime, or whatever AddEvent returned.
func (s *Scheduler) ScheduleFromText(ctx context.Context, text string) (Event, error) {
	var fields brain.EventFields
	if s.extract != nil {
		fields = s.extract.ExtractCalendarEvent(ctx, text)
	}

	now := s.dates.Now()
	start, err := s.resolveStart(fields, text)
	if err != nil {
		return Event{}, err
	}
	if !start.After(now) {
		return Event{}, dateparse.ErrPastTime
	}

	length := time.Hour
	if d, ok := dateparse.ParseDuration(fields.Duration); ok {
		length = d
	}

	summary := strings.TrimSpace(fields.Summary)
	if summary == "" {
		summary = strings.TrimSpace(text)
	}

	ev := NewEvent{
		Summary:  summary,
		Start:    start,
		End:      start.Add(length),
		Location: strings.TrimSpace(fields.Location),
	}
	uid, err := s.adder.AddEvent(ctx, ev)
	if err != nil {
		return Event{}, err
	}

	return Event{
		UID:      uid,
		Summary:  ev.Summary,
		Start:    ev.Start,
		End:      ev.End,
		Location: ev.Location,
	}, nil
}

func (s *Scheduler) resolveStart(fields brain.EventFields, text string) (time.Time, error) {
	if when := strings.TrimSpace(fields.Date + " " + fields.Time); when != "" {
		if t, err := s.dates.Parse(when); err == nil {
			return t, nil
		}
	}
	t, err := s.dates.Parse(text)
	if err != nil {
		return time.Time{}, dateparse.ErrUnparseableTime
	}
	return t, nil
}
