// Package extract recovers the JSON object a chat backend was asked to
// produce from its raw reply.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pomconv/internal/model"
)

var (
	ErrEmpty    = errors.New("response is empty")
	ErrNoObject = errors.New("no balanced JSON object found")
)

const fence = "```"

// Mapping parses raw into a JSON object. Code fences are stripped first; text
// that is not itself an object is scanned for the widest balanced top-level
// object. Failures are malformed-response errors.
func Mapping(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, malformed(ErrEmpty)
	}
	text := StripFence(raw)

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		if obj, err := decode(text); err == nil {
			return obj, nil
		}
	}

	candidate, ok := FindObject(text)
	if !ok {
		return nil, malformed(ErrNoObject)
	}
	obj, err := decode(candidate)
	if err != nil {
		return nil, malformed(fmt.Errorf("recovered object does not parse: %w", err))
	}
	return obj, nil
}

// StripFence removes a leading ``` line (with optional language tag) and a
// trailing ``` marker. Text without a fence comes back trimmed.
func StripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, fence) {
		return text
	}
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, fence)
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, fence)
	return strings.TrimSpace(text)
}

// FindObject returns the widest balanced top-level {...} span in text.
// Quotes are only tracked inside an object, so apostrophes in surrounding
// prose do not disturb the scan while braces inside JSON strings are skipped.
func FindObject(text string) (string, bool) {
	depth, start := 0, -1
	bestStart, bestEnd := -1, -1
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
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
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if bestStart < 0 || i+1-start > bestEnd-bestStart {
					bestStart, bestEnd = start, i+1
				}
				start = -1
			}
		}
	}
	if bestStart < 0 {
		return "", false
	}
	return text[bestStart:bestEnd], true
}

func decode(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("decoded value is not an object")
	}
	return obj, nil
}

func malformed(err error) error {
	return &model.Error{Kind: model.KindMalformedResponse, Op: "extract", Err: err}
}
