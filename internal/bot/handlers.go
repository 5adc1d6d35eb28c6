package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/brain"
	"github.com/memu-digital/memu-bot/internal/calendar"
	"github.com/memu-digital/memu-bot/internal/chathistory"
	"github.com/memu-digital/memu-bot/internal/dateparse"
	"github.com/memu-digital/memu-bot/internal/household"
)

const (
	replyInternalError = "❌ Sorry, something went wrong handling that."
	replyBadTime       = "❌ I couldn't understand the time or it is in the past."
	replyNoCalendar    = "📅 No calendar is connected yet."
	replyCalendarDown  = "❌ I couldn't reach the calendar right now."
	replyNoBrain       = "🤖 The assistant's language model is not available right now."
)

const completedShown = 5

func (b *Bot) handleRemember(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		return "❌ Usage: /remember [fact]", outcomeUsage
	}
	if _, err := b.deps.Store.AddFact(ctx, req.roomID, req.args, req.sender); err != nil {
		b.logger.Error("failed to store fact", "room", req.roomID, "error", err)
		return "❌ Failed to store memory", outcomeFailed
	}
	return "✓ Remembered: " + req.args, outcomeOK
}

func (b *Bot) handleRecall(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		return "❌ Usage: /recall [query]", outcomeUsage
	}
	if b.deps.Recall == nil {
		return "❌ Recall is not available.", outcomeUnavailable
	}
	if b.cfg.RecallDebug {
		b.reply(ctx, req.roomID, fmt.Sprintf("🔍 Gathering everything about '%s'…", req.args))
	}
	ans := b.deps.Recall.Recall(ctx, req.roomID, req.args)
	if ans.Results.HitSilos() == 0 {
		return ans.Text, outcomeEmpty
	}
	return ans.Text, outcomeOK
}

// splitItems splits "milk, eggs,, bread" into its non-blank parts.
func splitItems(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func (b *Bot) handleAddToList(ctx context.Context, req *request) (string, outcome) {
	items := splitItems(req.args)
	if len(items) == 0 {
		return "❌ Usage: /addtolist item1, item2", outcomeUsage
	}
	n, err := b.deps.Store.AddListItems(ctx, req.roomID, req.sender, items)
	if err != nil {
		b.logger.Error("failed to add list items", "room", req.roomID, "error", err)
		return "❌ Failed to add items", outcomeFailed
	}
	return fmt.Sprintf("✓ Added %d item(s) to the list.", n), outcomeOK
}

func (b *Bot) handleShowList(ctx context.Context, req *request) (string, outcome) {
	pending, completed, err := b.deps.Store.ListItems(ctx, req.roomID, completedShown)
	if err != nil {
		b.logger.Error("failed to read list", "room", req.roomID, "error", err)
		return "❌ Failed to retrieve list", outcomeFailed
	}
	if len(pending) == 0 && len(completed) == 0 {
		return "📝 List is empty.", outcomeEmpty
	}
	return formatList(pending, completed), outcomeOK
}

func formatList(pending, completed []household.ListItem) string {
	var sb strings.Builder
	sb.WriteString("📝 Shopping List:\n")
	if len(pending) > 0 {
		sb.WriteString("\nTo Buy:\n")
		for _, it := range pending {
			sb.WriteString("⬜ " + it.Item + "\n")
		}
	}
	if len(completed) > 0 {
		sb.WriteString("\nCompleted:\n")
		for _, it := range completed {
			sb.WriteString("☑ " + it.Item + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleDone(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		return "❌ Usage: /done [item]", outcomeUsage
	}
	item, err := b.deps.Store.MarkDone(ctx, req.roomID, req.args)
	if household.IsNotFound(err) {
		return fmt.Sprintf("❌ Could not find item '%s'", req.args), outcomeEmpty
	}
	if err != nil {
		b.logger.Error("failed to mark item done", "room", req.roomID, "error", err)
		return "❌ Failed to mark item as done", outcomeFailed
	}
	return "✓ Marked as done: " + item.Item, outcomeOK
}

func (b *Bot) handleRemind(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		return "❌ Usage: /remind [task] [time]", outcomeUsage
	}

	task := req.args
	var due time.Time
	if b.deps.Brain != nil {
		fields := b.deps.Brain.ExtractReminder(ctx, req.args)
		if t := strings.TrimSpace(fields.Task); t != "" {
			task = t
		}
		if when := strings.TrimSpace(fields.Time); when != "" {
			if t, err := b.deps.Dates.ParseFuture(when); err == nil {
				due = t
			}
		}
	}
	if due.IsZero() {
		t, err := b.deps.Dates.ParseFuture(dateparse.StripReminderPrefix(req.args))
		if err != nil {
			b.logger.Debug("reminder time rejected", "text", req.args, "error", err)
			return replyBadTime, outcomeUsage
		}
		due = t
	}

	if _, err := b.deps.Store.AddReminder(ctx, req.roomID, req.sender, task, due); err != nil {
		b.logger.Error("failed to store reminder", "room", req.roomID, "error", err)
		return "❌ Failed to set reminder", outcomeFailed
	}
	local := due.In(b.deps.Dates.Location())
	return fmt.Sprintf("⏰ Reminder set for %s: %q", local.Format("2006-01-02 15:04"), task), outcomeOK
}

func (b *Bot) handleSummarize(ctx context.Context, req *request) (string, outcome) {
	if b.deps.History == nil {
		return "❌ Failed to fetch history.", outcomeUnavailable
	}
	hits, err := b.deps.History.Recent(ctx, req.roomID, b.cfg.SummarizeMessageCap)
	if err != nil {
		b.logger.Error("failed to fetch history", "room", req.roomID, "error", err)
		return "❌ Failed to fetch history.", outcomeFailed
	}
	if len(hits) == 0 {
		return "No recent activity to summarize.", outcomeEmpty
	}
	if b.deps.Brain == nil {
		return replyNoBrain, outcomeUnavailable
	}
	summary := strings.TrimSpace(b.deps.Brain.SummarizeChat(ctx, chathistory.Transcript(hits)))
	if summary == "" {
		return replyNoBrain, outcomeUnavailable
	}
	return "📋 Summary:\n" + summary, outcomeOK
}

func (b *Bot) calendarReady() bool {
	return b.deps.Calendar != nil && b.deps.Calendar.Configured()
}

func (b *Bot) handleSchedule(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		return "❌ Usage: /schedule [event and time]", outcomeUsage
	}
	if !b.calendarReady() || b.deps.Scheduler == nil {
		return replyNoCalendar, outcomeUnavailable
	}
	ev, err := b.deps.Scheduler.ScheduleFromText(ctx, req.args)
	switch {
	case errors.Is(err, dateparse.ErrUnparseableTime), errors.Is(err, dateparse.ErrPastTime):
		return replyBadTime, outcomeUsage
	case err != nil:
		b.logger.Error("failed to schedule event", "room", req.roomID, "error", err)
		return "❌ Failed to add the event to the calendar.", outcomeFailed
	}
	loc := b.deps.Dates.Location()
	ev.Start, ev.End = ev.Start.In(loc), ev.End.In(loc)
	return fmt.Sprintf("📅 Scheduled for %s\n%s",
		ev.Start.Format("Monday, January 02"), calendar.FormatEvent(ev)), outcomeOK
}

func (b *Bot) handleCalendar(ctx context.Context, req *request) (string, outcome) {
	if !b.calendarReady() {
		return replyNoCalendar, outcomeUnavailable
	}

	today := startOfDay(b.deps.Dates.Now())
	start, end, label := today, today.AddDate(0, 0, 1), "today"
	switch strings.ToLower(strings.TrimSpace(req.args)) {
	case "", "today":
	case "tomorrow":
		start, end, label = today.AddDate(0, 0, 1), today.AddDate(0, 0, 2), "tomorrow"
	case "week":
		end, label = today.AddDate(0, 0, 7), "the next 7 days"
	default:
		return "❌ Usage: /calendar [week|tomorrow]", outcomeUsage
	}

	events, err := b.deps.Calendar.GetEvents(ctx, start, end)
	if err != nil {
		b.logger.Error("failed to read calendar", "room", req.roomID, "error", err)
		return replyCalendarDown, outcomeFailed
	}
	if len(events) == 0 {
		return fmt.Sprintf("📅 Nothing on the calendar for %s.", label), outcomeEmpty
	}
	return fmt.Sprintf("📅 Calendar for %s:\n%s", label, calendar.FormatEventList(events)), outcomeOK
}

func (b *Bot) handleFree(ctx context.Context, req *request) (string, outcome) {
	if !b.calendarReady() {
		return replyNoCalendar, outcomeUnavailable
	}
	day := b.deps.Dates.Now()
	if req.args != "" {
		t, err := b.deps.Dates.Parse(req.args)
		if err != nil {
			return "❌ Usage: /free [date]", outcomeUsage
		}
		day = t
	}
	slots, err := b.deps.Calendar.FindFreeSlots(ctx, day, b.cfg.FreeSlotMinutes,
		b.cfg.WorkdayStartHour, b.cfg.WorkdayEndHour)
	if err != nil {
		b.logger.Error("failed to find free slots", "room", req.roomID, "error", err)
		return replyCalendarDown, outcomeFailed
	}
	return fmt.Sprintf("🕐 Free time on %s:\n%s",
		day.Format("Monday, January 02"), calendar.FormatSlots(slots)), outcomeOK
}

func (b *Bot) handleBriefing(ctx context.Context, req *request) (string, outcome) {
	if b.deps.Briefing == nil {
		return "❌ The morning briefing is not set up.", outcomeUnavailable
	}
	text, data := b.deps.Briefing.Build(ctx, req.roomID)
	if strings.EqualFold(strings.TrimSpace(req.args), "debug") {
		text += "\n\n---\n🔧 **Gathered data**\n\n" + data.Debug()
	}
	return text, outcomeOK
}

var modeHelp = map[household.Mode]string{
	household.ModeOff:    "I only answer /commands here.",
	household.ModeQuiet:  "I answer /commands and messages that mention me.",
	household.ModeActive: "I answer /commands, mentions and every message in a direct chat.",
}

func (b *Bot) handleMode(ctx context.Context, req *request) (string, outcome) {
	if req.args == "" {
		mode, err := b.modes.get(ctx, req.roomID)
		if err != nil {
			b.logger.Warn("room mode lookup failed", "room", req.roomID, "error", err)
		}
		return fmt.Sprintf("🤖 AI mode here is **%s**. %s\nChange it with /ai [off|quiet|active].",
			mode, modeHelp[mode]), outcomeOK
	}
	mode, ok := household.ParseMode(req.args)
	if !ok {
		return "❌ Usage: /ai [off|quiet|active]", outcomeUsage
	}
	if err := b.modes.set(ctx, req.roomID, mode); err != nil {
		b.logger.Error("failed to set room mode", "room", req.roomID, "error", err)
		return "❌ Failed to change AI mode", outcomeFailed
	}
	b.logger.Info("room mode changed", "room", req.roomID, "mode", mode, "by", req.sender)
	return fmt.Sprintf("✓ AI mode set to **%s**. %s", mode, modeHelp[mode]), outcomeOK
}

const privacyText = `🔒 **Your privacy**

Everything I do runs on your family's own server. Messages, saved facts, lists, reminders and photos never leave this house, and the language model runs locally too.

Use /ai off in any room where you would rather I stayed out of the conversation.`

func (b *Bot) handlePrivate(context.Context, *request) (string, outcome) {
	return privacyText, outcomeOK
}

func (b *Bot) handleBackupStatus(ctx context.Context, req *request) (string, outcome) {
	if b.deps.Backup == nil {
		return "Failed to get backup status. Please check system logs.", outcomeUnavailable
	}
	st, err := b.deps.Backup.Status(ctx)
	if err != nil {
		b.logger.Error("failed to get backup status", "error", err)
		return "Failed to get backup status. Please check system logs.", outcomeFailed
	}
	return backup.FormatStatus(st), outcomeOK
}

const helpText = `**Memu Bot Commands**

**Memory**
/remember [fact] - Save a fact
/recall [query] - Search facts, chat, calendar and photos

**Lists**
/addtolist item1, item2 - Add items to shopping list
/showlist - Show the shopping list
/done [item] - Mark item as complete

**Reminders**
/remind [task] [time] - Set a reminder

**Calendar**
/schedule [event and time] - Add an event
/calendar [week|tomorrow] - Show upcoming events
/free [date] - Find free time

**Utilities**
/briefing - Morning briefing now
/summarize - Summarize recent chat
/ai [off|quiet|active] - How chatty I am in this room
/private - How your data is handled
/backup-status - Check backup health
/help - Show this help`

func (b *Bot) handleHelp(context.Context, *request) (string, outcome) {
	return helpText, outcomeOK
}

// intentCommands maps intents onto the command handlers they reuse.
var intentCommands = map[brain.IntentKind]string{
	brain.IntentCalendar:  "calendar",
	brain.IntentSchedule:  "schedule",
	brain.IntentListAdd:   "addtolist",
	brain.IntentListShow:  "showlist",
	brain.IntentReminder:  "remind",
	brain.IntentRecall:    "recall",
	brain.IntentRemember:  "remember",
	brain.IntentSummarize: "summarize",
	brain.IntentBriefing:  "briefing",
}

// handleNaturalLanguage classifies an addressed message and re-dispatches
// it to the matching command handler.
func (b *Bot) handleNaturalLanguage(ctx context.Context, req *request) {
	if b.deps.Brain == nil {
		return
	}
	intent := b.deps.Brain.ClassifyIntent(ctx, req.body)
	b.logger.Debug("intent classified",
		"room", req.roomID, "intent", intent.Kind, "stage", intent.Stage)

	switch intent.Kind {
	case brain.IntentNone:
		return
	case brain.IntentChat:
		b.reply(ctx, req.roomID, strings.TrimSpace(b.deps.Brain.Chat(ctx, req.body)))
		return
	case brain.IntentCalendar:
		// The calendar view only understands its own keywords.
		req.args = calendarRange(intent.Content)
	default:
		req.args = strings.TrimSpace(intent.Content)
	}

	name, ok := intentCommands[intent.Kind]
	if !ok {
		return
	}
	cmd, ok := b.cmds.lookup(name)
	if !ok {
		return
	}
	b.run(ctx, cmd, req)
}

func calendarRange(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "week"):
		return "week"
	case strings.Contains(lower, "tomorrow"):
		return "tomorrow"
	}
	return ""
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
