package prompts

import (
	"fmt"
	"time"
)

// BriefingSystem is the persona for morning briefings.
const BriefingSystem = `You are Memu, a warm family assistant writing the morning briefing.
Be cheerful and brief. Use only the information provided. Do not use
headings; a few short paragraphs or bullet points are fine.`

const briefingTemplate = `Write this morning's family briefing for %s.

Calendar today:
%s

Weather:
%s

Headlines:
%s

On this day in past years (photos):
%s

Shopping list:
%s

Briefing:`

// BriefingPrompt assembles the briefing prompt. Empty sections should be
// passed as "Nothing" so the model does not invent content.
func BriefingPrompt(day time.Time, calendar, weather, news, memories, shopping string) string {
	return fmt.Sprintf(briefingTemplate, day.Format("Monday 2 January"),
		calendar, weather, news, memories, shopping)
}
