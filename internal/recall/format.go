package recall

import (
	"fmt"
	"strings"

	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/matrix"
	"github.com/memu-digital/memu-bot/internal/photos"
)

const snippetLen = 120

// NothingFound is the reply when no silo had anything.
func NothingFound(query string) string {
	return fmt.Sprintf("🤔 I couldn't find anything about '%s'", query)
}

// FormatDirect lists the results without the model. A facts-only
// result uses the classic memory layout; anything else gets one section
// per silo in the order facts, chat, calendar, photos.
func FormatDirect(query string, r Results) string {
	if r.HitSilos() == 1 && (len(r.Facts) > 0 || len(r.Items) > 0) {
		return fmt.Sprintf("💡 Here's what I remember about '%s':\n\n%s", query, factLines(r))
	}

	var sections []string
	if len(r.Facts) > 0 || len(r.Items) > 0 {
		sections = append(sections, "📝 **Saved**\n"+factLines(r))
	}
	if len(r.Chat) > 0 {
		var b strings.Builder
		b.WriteString("💬 **Chat**\n")
		for _, h := range r.Chat {
			fmt.Fprintf(&b, "• %s: \"%s\" (%s)\n", matrix.LocalPart(h.Sender), snippet(h.Body), h.SentAt.Format("2006-01-02"))
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}
	if len(r.Events) > 0 {
		var b strings.Builder
		b.WriteString("📅 **Calendar**\n")
		for _, ev := range r.Events {
			fmt.Fprintf(&b, "• %s %s\n", ev.Start.Format("Mon 2 Jan 2006"), calendar.FormatEvent(ev))
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}
	if len(r.Photos) > 0 {
		sections = append(sections, "📷 **Photos**\n• "+photos.Summarize(r.Photos).String())
	}

	return fmt.Sprintf("💡 Here's what I found about '%s':\n\n%s", query, strings.Join(sections, "\n\n"))
}

func factLines(r Results) string {
	var b strings.Builder
	for _, f := range r.Facts {
		fmt.Fprintf(&b, "• %s (saved %s)\n", f.Text, f.CreatedAt.Format("2006-01-02"))
	}
	for _, it := range r.Items {
		state := "on the list"
		if it.Completed {
			state = "done"
		}
		fmt.Fprintf(&b, "• %s (%s)\n", it.Item, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Digest renders the results as plain labelled blocks for the model.
func Digest(r Results) string {
	var b strings.Builder
	if len(r.Facts) > 0 {
		b.WriteString("SAVED FACTS:\n")
		for _, f := range r.Facts {
			fmt.Fprintf(&b, "- %s (saved %s by %s)\n", f.Text, f.CreatedAt.Format("2006-01-02"), matrix.LocalPart(f.Author))
		}
		b.WriteString("\n")
	}
	if len(r.Items) > 0 {
		b.WriteString("SHOPPING LIST:\n")
		for _, it := range r.Items {
			state := "pending"
			if it.Completed {
				state = "bought"
			}
			fmt.Fprintf(&b, "- %s (%s, added %s)\n", it.Item, state, it.AddedAt.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}
	if len(r.Chat) > 0 {
		b.WriteString("CHAT MESSAGES:\n")
		for _, h := range r.Chat {
			fmt.Fprintf(&b, "- %s on %s: %q\n", matrix.LocalPart(h.Sender), h.SentAt.Format("2006-01-02"), snippet(h.Body))
		}
		b.WriteString("\n")
	}
	if len(r.Events) > 0 {
		b.WriteString("CALENDAR EVENTS:\n")
		for _, ev := range r.Events {
			fmt.Fprintf(&b, "- %s %s\n", ev.Start.Format("2006-01-02"), calendar.FormatEvent(ev))
		}
		b.WriteString("\n")
	}
	if len(r.Photos) > 0 {
		b.WriteString("PHOTOS:\n")
		fmt.Fprintf(&b, "- %s\n", photos.Summarize(r.Photos))
		for i, a := range r.Photos {
			if i == 5 {
				break
			}
			line := "- " + a.TakenAt.Format("2006-01-02")
			if p := a.Place(); p != "" {
				line += " in " + p
			}
			if a.Description != "" {
				line += ": " + a.Description
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "…"
}
