package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseValue extracts a number from a bus payload. It accepts plain decimal
// text, JSON numbers and booleans, true/false/on/off, a JSON string holding
// any of those, and a JSON object with a "value" member.
func ParseValue(payload []byte) (float64, error) {
	return parseValue(payload, 0)
}

// maxDepth bounds nesting of {"value": {"value": ...}} payloads.
const maxDepth = 4

func parseValue(payload []byte, depth int) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty payload", ErrNotNumeric)
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, s)
		}
		return f, nil
	}

	switch strings.ToLower(s) {
	case "true", "on":
		return 1, nil
	case "false", "off":
		return 0, nil
	}

	if depth >= maxDepth {
		return 0, fmt.Errorf("%w: nested too deeply", ErrNotNumeric)
	}

	switch s[0] {
	case '"':
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, abbreviate(s))
		}
		return parseValue([]byte(inner), depth+1)
	case '{':
		var obj struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil || len(obj.Value) == 0 {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, abbreviate(s))
		}
		return parseValue(obj.Value, depth+1)
	}

	return 0, fmt.Errorf("%w: %q", ErrNotNumeric, abbreviate(s))
}

func abbreviate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
