// Package brain turns free text into structured requests and back, using
// the household's local language model. It never touches the store or
// the chat transport.
//
// Every method degrades instead of failing: when the model is disabled,
// unreachable or talks nonsense, callers get an empty string or a
// NONE-style default and carry on without AI.
package brain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/memu-digital/memu-bot/internal/config"
	"github.com/memu-digital/memu-bot/internal/llm"
	"github.com/memu-digital/memu-bot/internal/metrics"
	"github.com/memu-digital/memu-bot/internal/prompts"
)

// Generator is the subset of the Ollama client the brain needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
}

// Config controls model selection.
type Config struct {
	Enabled     bool
	Model       string
	Temperature float64
}

// Brain is the intent engine.
type Brain struct {
	gen    Generator
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Brain. A nil gen behaves like a disabled model.
func New(gen Generator, cfg Config, logger *slog.Logger) *Brain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Brain{
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether model calls will be attempted.
func (b *Brain) Enabled() bool {
	return b != nil && b.cfg.Enabled && b.gen != nil
}

// Generate returns the model's answer to prompt, or "" when the model is
// disabled or the call fails. Callers must treat "" as "AI unavailable".
func (b *Brain) Generate(ctx context.Context, prompt, system string) string {
	return b.generate(ctx, "generate", prompt, system, "", b.cfg.Temperature)
}

func (b *Brain) generate(ctx context.Context, purpose, prompt, system, format string, temperature float64) string {
	if !b.Enabled() {
		return ""
	}

	resp, err := b.gen.Generate(ctx, llm.GenerateRequest{
		Model:   b.cfg.Model,
		Prompt:  prompt,
		System:  system,
		Format:  format,
		Options: &llm.Options{Temperature: temperature},
	})
	if err != nil {
		metrics.ModelRequests.WithLabelValues(purpose, metrics.ResultError).Inc()
		b.logger.Error("model request failed", "purpose", purpose, "model", b.cfg.Model, "error", err)
		return ""
	}

	text := strings.TrimSpace(resp.Response)
	if text == "" {
		metrics.ModelRequests.WithLabelValues(purpose, metrics.ResultEmpty).Inc()
	} else {
		metrics.ModelRequests.WithLabelValues(purpose, metrics.ResultOK).Inc()
	}
	b.logger.Log(ctx, config.LevelTrace, "model response", "purpose", purpose, "response", text)
	return text
}

// generateJSON runs a JSON-mode request and decodes it into v.
func (b *Brain) generateJSON(ctx context.Context, purpose, prompt string, v any) ParseStage {
	raw := b.generate(ctx, purpose, prompt, "", "json", 0.1)
	stage := ParseJSON(raw, v)
	metrics.JSONParseStage.WithLabelValues(stage.String()).Inc()
	if stage == ParseFallback && raw != "" {
		b.logger.Warn("model returned unparseable JSON", "purpose", purpose, "response", truncate(raw, 200))
	}
	return stage
}

// SynthesizeCrossSilo writes a short narrative answer to query from the
// per-silo digest. The prompt forbids details not present in digest.
func (b *Brain) SynthesizeCrossSilo(ctx context.Context, query, digest string) string {
	return b.generate(ctx, "synthesize", prompts.SynthesisPrompt(query, digest), prompts.RecallSystem, "", 0.3)
}

// Summarize shortens an over-long answer. Returns "" if unavailable.
func (b *Brain) Summarize(ctx context.Context, text string) string {
	return b.generate(ctx, "condense", prompts.CondensePrompt(text), prompts.RecallSystem, "", 0.3)
}

// SummarizeChat summarizes a "sender: text" transcript.
func (b *Brain) SummarizeChat(ctx context.Context, transcript string) string {
	return b.generate(ctx, "summarize", prompts.ChatSummaryPrompt(transcript), "", "", b.cfg.Temperature)
}

// Chat answers a conversational message.
func (b *Brain) Chat(ctx context.Context, text string) string {
	return b.generate(ctx, "chat", text, prompts.ChatSystem, "", b.cfg.Temperature)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
