package prompts

import (
	"fmt"
	"time"
)

const reminderTemplate = `Extract the task and the time from this reminder request.
Today is %s.

Request: %q

Respond ONLY with valid JSON in this format:
{"task": "what to do", "time": "when to do it, in words, e.g. tomorrow at 9am"}

JSON:`

// ReminderExtractionPrompt returns the prompt that splits a reminder
// request into task and time. now anchors relative phrases.
func ReminderExtractionPrompt(text string, now time.Time) string {
	return fmt.Sprintf(reminderTemplate, now.Format("Monday 2 January 2006 15:04"), text)
}

const calendarEventTemplate = `Extract a calendar event from this request.
Today is %s.

Request: %q

Respond ONLY with valid JSON in this format (use "" for anything not mentioned):
{"summary": "short title", "date": "the day in words, e.g. next Friday", "time": "e.g. 3pm", "duration": "e.g. 2 hours", "location": "where"}

JSON:`

// CalendarEventExtractionPrompt returns the prompt that pulls event
// fields out of a scheduling request.
func CalendarEventExtractionPrompt(text string, now time.Time) string {
	return fmt.Sprintf(calendarEventTemplate, now.Format("Monday 2 January 2006 15:04"), text)
}
