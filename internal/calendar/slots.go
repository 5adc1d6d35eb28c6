package calendar

import (
	"context"
	"sort"
	"time"
)

// Slot is a free interval on a calendar day.
type Slot struct {
	Start   time.Time
	End     time.Time
	Minutes int
}

// FreeSlots returns the gaps of at least minMinutes between events inside
// [windowStart, windowEnd). All-day events do not block time. Events may
// be unsorted and may overlap each other or the window edges.
func FreeSlots(events []Event, windowStart, windowEnd time.Time, minMinutes int) []Slot {
	sorted := make([]Event, 0, len(events))
	for _, ev := range events {
		if !ev.AllDay {
			sorted = append(sorted, ev)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	minGap := time.Duration(minMinutes) * time.Minute
	var slots []Slot
	add := func(from, to time.Time) {
		if to.After(from) && to.Sub(from) >= minGap {
			slots = append(slots, Slot{Start: from, End: to, Minutes: int(to.Sub(from).Minutes())})
		}
	}

	cursor := windowStart
	for _, ev := range sorted {
		if !cursor.Before(windowEnd) {
			break
		}
		gapEnd := ev.Start
		if gapEnd.After(windowEnd) {
			gapEnd = windowEnd
		}
		if gapEnd.After(cursor) {
			add(cursor, gapEnd)
		}
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	if cursor.Before(windowEnd) {
		add(cursor, windowEnd)
	}
	return slots
}

// FindFreeSlots returns free slots of at least minMinutes on date's day
// between startHour and endHour in the calendar's zone.
func (c *Client) FindFreeSlots(ctx context.Context, date time.Time, minMinutes, startHour, endHour int) ([]Slot, error) {
	if date.IsZero() {
		date = c.now()
	}
	day := startOfDay(date.In(c.cfg.Location))
	windowStart := day.Add(time.Duration(startHour) * time.Hour)
	windowEnd := day.Add(time.Duration(endHour) * time.Hour)

	events, err := c.GetEvents(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return FreeSlots(events, windowStart, windowEnd, minMinutes), nil
}
