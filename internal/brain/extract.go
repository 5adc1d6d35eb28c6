package brain

import (
	"context"

	"github.com/memu-digital/memu-bot/internal/prompts"
)

// ReminderFields is what the model pulled out of a reminder request.
// Either field may be empty.
type ReminderFields struct {
	Task string
	Time string
}

// ExtractReminder splits text into task and time. On failure both
// fields are empty and the caller parses the raw text itself.
func (b *Brain) ExtractReminder(ctx context.Context, text string) ReminderFields {
	var out struct {
		Task looseString `json:"task"`
		Time looseString `json:"time"`
	}
	if b.generateJSON(ctx, "extract_reminder", prompts.ReminderExtractionPrompt(text, b.now()), &out) == ParseFallback {
		return ReminderFields{}
	}
	return ReminderFields{Task: string(out.Task), Time: string(out.Time)}
}

// EventFields is what the model pulled out of a scheduling request.
type EventFields struct {
	Summary  string
	Date     string
	Time     string
	Duration string
	Location string
}

// ExtractCalendarEvent pulls event details out of text. On failure all
// fields are empty.
func (b *Brain) ExtractCalendarEvent(ctx context.Context, text string) EventFields {
	var out struct {
		Summary  looseString `json:"summary"`
		Date     looseString `json:"date"`
		Time     looseString `json:"time"`
		Duration looseString `json:"duration"`
		Location looseString `json:"location"`
	}
	if b.generateJSON(ctx, "extract_event", prompts.CalendarEventExtractionPrompt(text, b.now()), &out) == ParseFallback {
		return EventFields{}
	}
	return EventFields{
		Summary:  string(out.Summary),
		Date:     string(out.Date),
		Time:     string(out.Time),
		Duration: string(out.Duration),
		Location: string(out.Location),
	}
}
