package agent

import (
	"reflect"
	"testing"
)

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text passes through", "Happy to help! What's your budget?", "Happy to help! What's your budget?"},
		{"trims whitespace", "  hello \n", "hello"},
		{"strips thinking block", "<thinking>the lead seems warm</thinking>Sounds great, when works for you?", "Sounds great, when works for you?"},
		{"strips unterminated thinking block", "Sure thing.<think>should I push harder", "Sure thing."},
		{"unwraps full code fence", "```\nSee you at 3pm.\n```", "See you at 3pm."},
		{"unwraps fence with language tag", "```text\nSee you at 3pm.\n```", "See you at 3pm."},
		{"keeps inner fence intact", "Run this:\n```\nnpm install\n```\nthen retry.", "Run this:\n```\nnpm install\n```\nthen retry."},
		{"collapses blank runs", "Hi!\n\n\n\nStill there?", "Hi!\n\nStill there?"},
		{"empty stays empty", "", ""},
		{"only a thinking block becomes empty", "<think>nothing to say</think>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeReply(tt.in); got != tt.want {
				t.Errorf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeRepliesDropsEmpties(t *testing.T) {
	in := []string{"First draft", "<thinking>hmm</thinking>", "  Second draft  "}
	got := sanitizeReplies(in)
	want := []string{"First draft", "Second draft"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sanitizeReplies() = %v, want %v", got, want)
	}
}
