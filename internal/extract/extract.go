// Copyright 2025 The Draftforge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package extract recovers structured data from LLM completions.
//
// Model output is messy: JSON arrives wrapped in markdown code fences,
// prefixed with commentary, or embedded mid-sentence. The helpers here
// strip that packaging and hand back something json.Unmarshal accepts.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON extracts the first JSON object or array from raw LLM output
// and unmarshals it into v. It tolerates markdown code fences and
// surrounding prose.
func ParseJSON(raw string, v interface{}) error {
	candidate := ExtractJSON(raw)
	if candidate == "" {
		return fmt.Errorf("no JSON object found in output")
	}

	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// ParseJSONMap is a convenience wrapper returning a generic map.
func ParseJSONMap(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := ParseJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractJSON returns the first JSON object or array found in raw text,
// or "" if none is present. Code fences are stripped first so fenced
// output wins over a brace that happens to appear in prose before it.
func ExtractJSON(raw string) string {
	text := StripCodeFences(raw)

	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start == -1 {
		return ""
	}

	end := scanBalanced(text, start)
	if end == -1 {
		return ""
	}
	return text[start : end+1]
}

// StripCodeFences removes a surrounding markdown code fence, if present.
// The language tag after the opening fence (```json etc.) is discarded.
func StripCodeFences(raw string) string {
	text := strings.TrimSpace(raw)

	idx := strings.Index(text, "```")
	if idx == -1 {
		return text
	}

	text = text[idx+3:]
	// Drop the language tag line.
	if nl := strings.IndexByte(text, '\n'); nl != -1 {
		firstLine := strings.TrimSpace(text[:nl])
		if firstLine == "" || isLanguageTag(firstLine) {
			text = text[nl+1:]
		}
	}

	if closing := strings.LastIndex(text, "```"); closing != -1 {
		text = text[:closing]
	}

	return strings.TrimSpace(text)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// scanBalanced returns the index of the delimiter closing the JSON value
// opening at start, respecting string literals and escapes. Returns -1
// if the value never closes.
func scanBalanced(text string, start int) int {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
