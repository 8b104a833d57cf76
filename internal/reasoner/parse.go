package reasoner

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Parsed holds either a decoded model reply or, when decoding failed, the raw
// text so callers can fall back to it.
type Parsed[T any] struct {
	Value T
	Raw   string
	OK    bool
}

// Get returns the decoded value and whether decoding succeeded.
func (p Parsed[T]) Get() (T, bool) {
	return p.Value, p.OK
}

// ParseJSON decodes a model reply into T. Code fences and surrounding prose are
// stripped first; replies that are still not valid JSON go through a repair
// pass before giving up.
func ParseJSON[T any](raw string) Parsed[T] {
	out := Parsed[T]{Raw: strings.TrimSpace(raw)}
	block := normalizeJSONBlock(raw)
	if block == "" {
		return out
	}
	if err := json.Unmarshal([]byte(block), &out.Value); err == nil {
		out.OK = true
		return out
	}
	repaired, err := jsonrepair.JSONRepair(block)
	if err != nil {
		return out
	}
	var value T
	if err := json.Unmarshal([]byte(repaired), &value); err != nil {
		return out
	}
	out.Value = value
	out.OK = true
	return out
}

func normalizeJSONBlock(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.IndexRune(trimmed, '\n'); idx >= 0 {
			trimmed = trimmed[idx+1:]
		}
		if strings.HasSuffix(trimmed, "```") {
			trimmed = trimmed[:len(trimmed)-3]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end >= start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}
