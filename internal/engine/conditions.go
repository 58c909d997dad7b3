package engine

import (
	"fmt"
	"strings"
)

// evaluateCondition evaluates a simple step condition against the process's
// business context. Supports "field == value" and "field != value", with
// optional quotes around the value and an optional "context." prefix on the
// field. Unparseable conditions are treated as true (permissive).
func evaluateCondition(condition string, context map[string]any) bool {
	if parts := splitCondition(condition, "=="); len(parts) == 2 {
		return lookupValue(parts[0], context) == expectedValue(parts[1])
	}
	if parts := splitCondition(condition, "!="); len(parts) == 2 {
		return lookupValue(parts[0], context) != expectedValue(parts[1])
	}
	return true
}

func lookupValue(field string, context map[string]any) string {
	key := strings.TrimSpace(field)
	key = strings.TrimPrefix(key, "context.")
	val, ok := context[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(val)
}

func expectedValue(raw string) string {
	return trimQuotes(strings.TrimSpace(raw))
}

// splitCondition splits a condition string by an operator, but only if the
// operator isn't part of a longer operator (e.g., != vs ==).
func splitCondition(s, op string) []string {
	idx := -1
	for i := 0; i <= len(s)-len(op); i++ {
		if s[i:i+len(op)] == op {
			if op == "==" && i > 0 && s[i-1] == '!' {
				continue
			}
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	return []string{s[:idx], s[idx+len(op):]}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && ((s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"')) {
		return s[1 : len(s)-1]
	}
	return s
}
