package brain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseStage reports how a model response was turned into a value.
type ParseStage int

const (
	// ParseFallback means neither parse worked; the caller's default
	// applies.
	ParseFallback ParseStage = iota
	// ParseDirect means the whole (fence-stripped) response was valid JSON.
	ParseDirect
	// ParseExtracted means the substring from the first '{' to the last
	// '}' was valid JSON.
	ParseExtracted
)

func (s ParseStage) String() string {
	switch s {
	case ParseDirect:
		return "direct"
	case ParseExtracted:
		return "extracted"
	default:
		return "fallback"
	}
}

// ParseJSON decodes a language model response into v. Models wrap JSON
// in prose or markdown fences often enough that a strict decode is not
// sufficient. When the result is [ParseFallback], v may be partially
// written and should be discarded.
func ParseJSON(raw string, v any) ParseStage {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return ParseFallback
	}

	if json.Unmarshal([]byte(text), v) == nil {
		return ParseDirect
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(text[start:end+1]), v) == nil {
			return ParseExtracted
		}
	}
	return ParseFallback
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// looseString accepts a JSON string, number, bool or null. Small models
// answer {"duration": 2} as readily as {"duration": "2 hours"}.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = looseString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*l = looseString(n.String())
		return nil
	}
	var bv bool
	if err := json.Unmarshal(b, &bv); err == nil {
		*l = looseString(strconv.FormatBool(bv))
		return nil
	}
	// null and anything structured read as empty
	*l = ""
	return nil
}
