package signals

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/matthewbaird/canalworks/internal/types"
)

// Classify returns the registration matching entry. Registrations with a
// condition are tried first against the entry's payload.
func Classify(entry types.ActivityEntry) (Registration, bool) {
	regs := Lookup(entry.EventType)
	if len(regs) == 0 {
		return Registration{}, false
	}

	var payload map[string]any
	if len(entry.Payload) > 0 {
		_ = json.Unmarshal(entry.Payload, &payload)
	}

	var fallback *Registration
	for i := range regs {
		reg := &regs[i]
		if reg.Condition == "" {
			if fallback == nil {
				fallback = reg
			}
			continue
		}
		if matchCondition(reg.Condition, payload) {
			return *reg, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Registration{}, false
}

// PolarityOf classifies entry, or reports it neutral.
func PolarityOf(entry types.ActivityEntry) string {
	if reg, ok := Classify(entry); ok {
		return reg.Polarity
	}
	return PolarityNeutral
}

// matchCondition evaluates "field op value" against payload. Operators:
// ==, <, >, <=, >=.
func matchCondition(condition string, payload map[string]any) bool {
	if payload == nil {
		return false
	}
	// Two-char operators first.
	for _, op := range []string{"<=", ">=", "==", "<", ">"} {
		parts := strings.SplitN(condition, op, 2)
		if len(parts) != 2 {
			continue
		}
		actual, exists := payload[strings.TrimSpace(parts[0])]
		if !exists {
			return false
		}
		expected := strings.TrimSpace(parts[1])
		switch op {
		case "==":
			return valueEquals(actual, expected)
		case "<=":
			return valueCompare(actual, expected) <= 0
		case ">=":
			return valueCompare(actual, expected) >= 0
		case "<":
			return valueCompare(actual, expected) < 0
		case ">":
			return valueCompare(actual, expected) > 0
		}
	}
	return false
}

func valueEquals(actual any, expected string) bool {
	switch v := actual.(type) {
	case string:
		return v == expected
	case float64:
		ev, err := strconv.ParseFloat(expected, 64)
		if err != nil {
			return false
		}
		return v == ev
	case bool:
		return strconv.FormatBool(v) == expected
	}
	return false
}

// valueCompare returns -1, 0 or 1. Non-numeric values compare equal.
func valueCompare(actual any, threshold string) int {
	av, ok := actual.(float64)
	if !ok {
		return 0
	}
	tv, err := strconv.ParseFloat(threshold, 64)
	if err != nil {
		return 0
	}
	switch {
	case av < tv:
		return -1
	case av > tv:
		return 1
	}
	return 0
}
