package llm

import "strings"

// StripFences removes a surrounding markdown code fence (``` or ```json).
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, "```")
	if idx == -1 {
		return s
	}
	s = s[idx+3:]
	s = strings.TrimPrefix(s, "json")
	if end := strings.Index(s, "```"); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// ExtractJSON returns the outermost open...close span of a model response,
// tolerating code fences and conversational filler around it.
func ExtractJSON(resp string, open, close byte) (string, bool) {
	s := StripFences(resp)
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
