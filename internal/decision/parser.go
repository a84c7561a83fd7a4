package decision

import (
	"encoding/json"
	"strings"

	"perps-control-plane/internal/logging"
)

// ParseResponse extracts the per-symbol decisions and the stringified
// chain-of-thought trace from a raw engine response. Markdown code
// fences are tolerated. A response that is not valid JSON yields empty
// decisions rather than an error: one malformed reply must not abort a
// trading cycle.
func ParseResponse(raw string, logger *logging.Logger) (map[string]Decision, string) {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return map[string]Decision{}, ""
	}

	// Preferred shape: {"decisions": {...}, "cot_trace": ...}
	var wrapped struct {
		Decisions map[string]Decision `json:"decisions"`
		CotTrace  json.RawMessage     `json:"cot_trace"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil && wrapped.Decisions != nil {
		return wrapped.Decisions, stringifyCot(wrapped.CotTrace)
	}

	// Bare decisions map: {"BTCUSDT": {...}, ...}
	var bare map[string]Decision
	if err := json.Unmarshal([]byte(cleaned), &bare); err == nil && bare != nil {
		return bare, ""
	}

	if logger != nil {
		logger.Warn("Decision response is not valid JSON, returning empty decisions", "response_len", len(raw))
	}
	return map[string]Decision{}, ""
}

// StripFences removes an optional markdown code fence, with or without
// a json language tag, around the payload.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 && strings.EqualFold(strings.TrimSpace(s[:idx]), "json") {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// stringifyCot flattens a chain-of-thought value: strings pass through,
// arrays join line by line with non-string items JSON-encoded, and any
// other type is JSON-serialized whole.
func stringifyCot(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var asArray []interface{}
	if err := json.Unmarshal(raw, &asArray); err == nil {
		lines := make([]string, 0, len(asArray))
		for _, item := range asArray {
			if s, ok := item.(string); ok {
				lines = append(lines, s)
				continue
			}
			encoded, err := json.Marshal(item)
			if err != nil {
				continue
			}
			lines = append(lines, string(encoded))
		}
		return strings.Join(lines, "\n")
	}

	return string(raw)
}
