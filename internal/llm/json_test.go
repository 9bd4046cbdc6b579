package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"leading prose", `Sure thing. {"a": 1} Hope that helps.`, `{"a": 1}`, true},
		{"nested braces", `{"a": {"b": "}"}}`, `{"a": {"b": "}"}}`, true},
		{"escaped quote", `{"a": "say \"hi\""}`, `{"a": "say \"hi\""}`, true},
		{"no object", "no json here", "", false},
		{"unbalanced", `{"a": 1`, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := ExtractJSON(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && string(raw) != tc.want {
				t.Errorf("raw = %q, want %q", raw, tc.want)
			}
		})
	}
}
