package prompts

import "fmt"

// RecallSystem keeps synthesized answers grounded in the digest.
const RecallSystem = `You are Memu, a private family assistant. Answer only from the
information you are given. Never add names, dates, places or events that
are not in it. If the information does not answer the question, say so.`

const synthesisTemplate = `The family asked: %q

Here is everything found across the family's notes, chat history,
calendar and photo library:

%s

Write a short, friendly answer (at most 5 sentences) that connects these
findings. Mention when and where things happened if the information says so.`

// SynthesisPrompt returns the cross-silo synthesis prompt. digest is the
// per-silo textual summary built by the recall engine.
func SynthesisPrompt(query, digest string) string {
	return fmt.Sprintf(synthesisTemplate, query, digest)
}

const condenseTemplate = `Condense the following answer to under 800 characters. Keep every
date, name and place that matters; drop repetition.

%s

Condensed answer:`

// CondensePrompt returns the prompt used when an answer is too long for
// a chat message.
func CondensePrompt(text string) string {
	return fmt.Sprintf(condenseTemplate, text)
}

const chatSummaryTemplate = `Summarize today's family activity in 2-3 sentences.
Focus on: important events, decisions made, upcoming plans.

%s

Summary:`

// ChatSummaryPrompt returns the prompt for /summarize. transcript is
// "sender: text" lines in chronological order.
func ChatSummaryPrompt(transcript string) string {
	return fmt.Sprintf(chatSummaryTemplate, transcript)
}

// ChatSystem is the persona for free conversational replies.
const ChatSystem = `You are Memu, a warm and concise assistant for one family. You run
entirely on the family's own hardware. Keep answers short and practical.
If you do not know something, say so.`
