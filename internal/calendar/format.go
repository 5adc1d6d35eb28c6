package calendar

import (
	"fmt"
	"strings"
)

// FormatEvent renders one event as "HH:MM-HH:MM: Summary @ Location".
func FormatEvent(ev Event) string {
	when := "All day"
	if !ev.AllDay {
		when = ev.Start.Format("15:04") + "-" + ev.End.Format("15:04")
	}
	var where string
	if ev.Location != "" {
		where = " @ " + ev.Location
	}
	return fmt.Sprintf("%s: %s%s", when, ev.Summary, where)
}

// FormatEventList renders events grouped under bold date headers.
// Events must already be sorted.
func FormatEventList(events []Event) string {
	if len(events) == 0 {
		return "No events scheduled."
	}

	var lines []string
	var current string
	for _, ev := range events {
		day := ev.Start.Format("2006-01-02")
		if day != current {
			current = day
			lines = append(lines, "\n**"+ev.Start.Format("Monday, January 02")+"**")
		}
		lines = append(lines, "  "+FormatEvent(ev))
	}
	return strings.Join(lines, "\n")
}

// FormatSlots renders free slots for a chat reply.
func FormatSlots(slots []Slot) string {
	if len(slots) == 0 {
		return "No free time in working hours."
	}
	var b strings.Builder
	for _, s := range slots {
		fmt.Fprintf(&b, "• %s-%s (%s)\n", s.Start.Format("15:04"), s.End.Format("15:04"), formatMinutes(s.Minutes))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMinutes(m int) string {
	switch {
	case m < 60:
		return fmt.Sprintf("%d min", m)
	case m%60 == 0:
		return fmt.Sprintf("%dh", m/60)
	default:
		return fmt.Sprintf("%dh %02dm", m/60, m%60)
	}
}
