package agent

import (
	"regexp"
	"strings"
)

// Replies occasionally arrive wrapped in reasoning tags or quote fences even
// with a forced tool call, depending on the model. Everything here is
// stripped before a reply reaches a lead.
var (
	thinkingTagRe = regexp.MustCompile(`(?is)<(think|thinking|thought)>.*?</(think|thinking|thought)>`)
	openTagRe     = regexp.MustCompile(`(?is)<(think|thinking|thought)>.*$`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// SanitizeReply cleans one reply draft for delivery.
func SanitizeReply(s string) string {
	if s == "" {
		return ""
	}
	s = thinkingTagRe.ReplaceAllString(s, "")
	s = openTagRe.ReplaceAllString(s, "")
	s = stripWrappingFence(s)
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func sanitizeReplies(drafts []string) []string {
	out := drafts[:0]
	for _, d := range drafts {
		if clean := SanitizeReply(d); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

// stripWrappingFence unwraps a reply that is a single fenced code block.
// Partial fences inside a longer reply are left alone.
func stripWrappingFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 7 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(t, "```"), "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	if strings.Contains(body, "```") {
		return s
	}
	return body
}
