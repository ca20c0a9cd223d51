package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	lineCommentPattern   = regexp.MustCompile(`(?m)^\s*//.*$`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of free-form model text. It tries the
// raw text first, then fenced code blocks, then the first balanced brace
// span, cleaning line comments and trailing commas before giving up.
func ExtractJSON(text string) ([]byte, error) {
	candidates := []string{strings.TrimSpace(text)}

	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}

	if span := firstBalancedObject(text); span != "" {
		candidates = append(candidates, span)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
		cleaned := cleanupJSON(candidate)
		if json.Valid([]byte(cleaned)) {
			return []byte(cleaned), nil
		}
	}

	return nil, fmt.Errorf("no JSON object found in model response")
}

// DecodeStructured extracts and unmarshals a JSON object from model text.
func DecodeStructured(text string, out interface{}) error {
	doc, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}

// firstBalancedObject returns the first brace-balanced object in text,
// ignoring braces inside string literals.
func firstBalancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func cleanupJSON(candidate string) string {
	cleaned := lineCommentPattern.ReplaceAllString(candidate, "")
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	return strings.TrimSpace(cleaned)
}
