package transcriber

import "strings"

// Token is a recognized word or sub-word with its start time relative to
// the recognized window.
type Token struct {
	Text         string
	StartSeconds float64
}

const groupMaxSeconds = 2.5

// GroupTokens joins tokens into sub-segments, closing a group at
// sentence-ending punctuation or once it spans groupMaxSeconds.
func GroupTokens(tokens []Token) []SubSegment {
	var (
		out     []SubSegment
		current strings.Builder
		start   float64
		open    bool
	)
	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			out = append(out, SubSegment{Text: text, StartSeconds: start})
		}
		current.Reset()
		open = false
	}
	for _, tok := range tokens {
		if !open {
			start = tok.StartSeconds
			open = true
		}
		current.WriteString(tok.Text)
		trimmed := strings.TrimSpace(tok.Text)
		if endsSentence(trimmed) || tok.StartSeconds-start >= groupMaxSeconds {
			flush()
		}
	}
	if open {
		flush()
	}
	return out
}

func endsSentence(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '?', '!':
		return true
	}
	return strings.HasSuffix(s, "。") || strings.HasSuffix(s, "？") || strings.HasSuffix(s, "！")
}
