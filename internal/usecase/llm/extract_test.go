package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		open   byte
		close  byte
		want   string
		wantOK bool
	}{
		{"bare object", `{"category":"normal"}`, '{', '}', `{"category":"normal"}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", '{', '}', `{"a": 1}`, true},
		{"filler", `Sure! Here you go: {"a": 1} Hope it helps.`, '{', '}', `{"a": 1}`, true},
		{"array", "Questions:\n[\"a?\", \"b?\"]", '[', ']', `["a?", "b?"]`, true},
		{"none", "no json here", '{', '}', "", false},
		{"reversed", "} {", '{', '}', "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in, tt.open, tt.close)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	if got := StripFences("  plain  "); got != "plain" {
		t.Errorf("got %q", got)
	}
	if got := StripFences("```\nOverview: x\n```"); got != "Overview: x" {
		t.Errorf("got %q", got)
	}
}
