package events

import (
	"fmt"
	"strings"
)

const (
	maxPatternLength   = 256
	maxPatternSegments = 10
)

// ValidatePattern rejects anything outside the allowed shape at
// registration time: length > 256, more than 10 segments, empty
// segments, or characters outside [A-Za-z0-9._*-].
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("event pattern is empty")
	}
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("event pattern exceeds %d characters", maxPatternLength)
	}

	segments := strings.Split(pattern, ".")
	if len(segments) > maxPatternSegments {
		return fmt.Errorf("event pattern exceeds %d segments", maxPatternSegments)
	}
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("event pattern has empty segment")
		}
		for _, c := range seg {
			if !isPatternChar(c) {
				return fmt.Errorf("event pattern contains invalid character %q", c)
			}
		}
	}
	return nil
}

func isPatternChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '*' || c == '_' || c == '-':
		return true
	}
	return false
}

// MatchEventPattern reports whether the pattern matches the event type.
// Pure string comparison, case-sensitive:
//
//   - "*" alone matches any event
//   - fewer pattern segments than event segments: prefix match
//   - equal count: segment-wise glob match
//   - more pattern segments than event segments: never matches
func MatchEventPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" || eventType == "" {
		return false
	}

	patSegs := strings.Split(pattern, ".")
	evtSegs := strings.Split(eventType, ".")

	if len(patSegs) > len(evtSegs) {
		return false
	}

	for i, p := range patSegs {
		if p == "*" {
			continue
		}
		if p != evtSegs[i] {
			return false
		}
	}
	return true
}
