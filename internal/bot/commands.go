package bot

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/memu-digital/memu-bot/internal/metrics"
)

// outcome labels a handler run for the commands counter.
type outcome string

const (
	outcomeOK          outcome = metrics.ResultOK
	outcomeFailed      outcome = metrics.ResultError
	outcomeEmpty       outcome = metrics.ResultEmpty
	outcomeUsage       outcome = "usage"
	outcomeUnavailable outcome = "unavailable"
)

// request is one message on its way through a handler. args is the text
// after the command token, or the intent payload on the natural-language
// path.
type request struct {
	roomID string
	sender string
	body   string
	args   string
}

type handlerFunc func(ctx context.Context, req *request) (string, outcome)

type command struct {
	token   string
	name    string
	handler handlerFunc
}

// commandTable is ordered longest token first.
type commandTable []command

func newCommandTable(cmds []command) commandTable {
	t := commandTable(cmds)
	sort.SliceStable(t, func(i, j int) bool { return len(t[i].token) > len(t[j].token) })
	return t
}

// match selects the longest token that prefixes body and ends at
// whitespace or end of body. "/reminders" does not match "/remind".
func (t commandTable) match(body string) (command, string, bool) {
	for _, c := range t {
		if !strings.HasPrefix(body, c.token) {
			continue
		}
		rest := body[len(c.token):]
		if rest == "" {
			return c, "", true
		}
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsSpace(r) {
			return c, strings.TrimSpace(rest), true
		}
	}
	return command{}, "", false
}

func (b *Bot) commands() commandTable {
	return newCommandTable([]command{
		{"/remember", "remember", b.handleRemember},
		{"/recall", "recall", b.handleRecall},
		{"/addtolist", "addtolist", b.handleAddToList},
		{"/showlist", "showlist", b.handleShowList},
		{"/done", "done", b.handleDone},
		{"/remind", "remind", b.handleRemind},
		{"/summarize", "summarize", b.handleSummarize},
		{"/schedule", "schedule", b.handleSchedule},
		{"/calendar", "calendar", b.handleCalendar},
		{"/free", "free", b.handleFree},
		{"/briefing", "briefing", b.handleBriefing},
		{"/ai", "ai", b.handleMode},
		{"/private", "private", b.handlePrivate},
		{"/backup-status", "backup_status", b.handleBackupStatus},
		{"/backupstatus", "backup_status", b.handleBackupStatus},
		{"/help", "help", b.handleHelp},
	})
}

// lookup finds a command by name for intent re-dispatch.
func (t commandTable) lookup(name string) (command, bool) {
	for _, c := range t {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// run executes a handler, records the outcome and sends its reply.
func (b *Bot) run(ctx context.Context, cmd command, req *request) {
	text, result := cmd.handler(ctx, req)
	metrics.CommandsTotal.WithLabelValues(cmd.name, string(result)).Inc()
	b.logger.Debug("command handled",
		"command", cmd.name, "room", req.roomID, "result", result)
	b.reply(ctx, req.roomID, text)
}
