package brain

import (
	"context"
	"strings"

	"github.com/memu-digital/memu-bot/internal/metrics"
	"github.com/memu-digital/memu-bot/internal/prompts"
)

// IntentKind is the classifier's verdict on a non-command message.
type IntentKind string

const (
	IntentCalendar  IntentKind = "CALENDAR"
	IntentSchedule  IntentKind = "SCHEDULE"
	IntentListAdd   IntentKind = "LIST_ADD"
	IntentListShow  IntentKind = "LIST_SHOW"
	IntentReminder  IntentKind = "REMINDER"
	IntentRecall    IntentKind = "RECALL"
	IntentRemember  IntentKind = "REMEMBER"
	IntentSummarize IntentKind = "SUMMARIZE"
	IntentBriefing  IntentKind = "BRIEFING"
	IntentChat      IntentKind = "CHAT"
	IntentNone      IntentKind = "NONE"
)

var knownIntents = map[IntentKind]bool{
	IntentCalendar: true, IntentSchedule: true, IntentListAdd: true,
	IntentListShow: true, IntentReminder: true, IntentRecall: true,
	IntentRemember: true, IntentSummarize: true, IntentBriefing: true,
	IntentChat: true, IntentNone: true,
}

// Intent is a classified message. Content is the payload the intent
// needs (items, the fact, the topic), never classifier scaffolding.
type Intent struct {
	Kind    IntentKind
	Content string
	Stage   ParseStage
}

// ClassifyIntent asks the model what text wants. Any failure yields
// {NONE, text}.
func (b *Brain) ClassifyIntent(ctx context.Context, text string) Intent {
	raw := b.generate(ctx, "classify", prompts.IntentPrompt(text), "", "json", 0.1)
	intent := ParseIntent(raw, text)
	metrics.JSONParseStage.WithLabelValues(intent.Stage.String()).Inc()
	return intent
}

// ParseIntent applies the tolerant parser to a classifier response.
// Unknown intent names become NONE. An empty content falls back to the
// original text so handlers always have something to work with.
func ParseIntent(raw, text string) Intent {
	var out struct {
		Intent  looseString `json:"intent"`
		Content looseString `json:"content"`
	}
	stage := ParseJSON(raw, &out)
	if stage == ParseFallback {
		return Intent{Kind: IntentNone, Content: text, Stage: ParseFallback}
	}

	kind := IntentKind(strings.ToUpper(strings.TrimSpace(string(out.Intent))))
	kind = IntentKind(strings.ReplaceAll(string(kind), " ", "_"))
	if !knownIntents[kind] {
		kind = IntentNone
	}

	content := strings.TrimSpace(string(out.Content))
	if content == "" {
		content = text
	}
	return Intent{Kind: kind, Content: content, Stage: stage}
}
