package prompts

import "fmt"

// intentTemplate asks for exactly one JSON object. The single format verb
// is the user's message.
const intentTemplate = `You route messages for a family assistant. Classify the message into
exactly one intent and extract the part of the message the intent needs.

Intents:
- CALENDAR: asking what is on the calendar ("what's on this week?")
- SCHEDULE: asking to put an event in the calendar
- LIST_ADD: things to add to the shopping list (content = comma separated items)
- LIST_SHOW: asking to see the shopping list
- REMINDER: asking to be reminded of something (content = the reminder with its time)
- RECALL: asking what the family knows or said about something (content = the topic)
- REMEMBER: telling the assistant to remember a fact (content = the fact)
- SUMMARIZE: asking for a summary of the recent conversation
- BRIEFING: asking for the daily briefing
- CHAT: a question or remark addressed to the assistant that needs a conversational answer
- NONE: ordinary conversation between family members that needs no response

Respond with ONLY a JSON object: {"intent": "<INTENT>", "content": "<extracted text>"}

Examples:
"We need milk and bread" -> {"intent": "LIST_ADD", "content": "milk, bread"}
"Remind me to call mum tomorrow at 6pm" -> {"intent": "REMINDER", "content": "call mum tomorrow at 6pm"}
"Put dentist on Friday at 3pm in the calendar" -> {"intent": "SCHEDULE", "content": "dentist on Friday at 3pm"}
"What do we know about the boiler?" -> {"intent": "RECALL", "content": "boiler"}
"How was school today?" -> {"intent": "NONE", "content": ""}

Message: %q

JSON:`

// IntentPrompt returns the classification prompt for text.
func IntentPrompt(text string) string {
	return fmt.Sprintf(intentTemplate, text)
}
