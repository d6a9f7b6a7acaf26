// Package summarizer turns transcript text into a bounded keyword summary.
package summarizer

import (
	"context"
	"fmt"
	"strings"
)

const (
	// MaxInputRunes is the hard cap on text sent for analysis.
	MaxInputRunes = 5000
	// MaxKeywords is the number of keywords kept, in original order.
	MaxKeywords = 50
	// Marker is appended to every summary, including empty ones.
	Marker = " ..."
)

// Category is a part-of-speech tag.
type Category string

const (
	CategoryNoun       Category = "NOUN"
	CategoryProperNoun Category = "PROPN"
)

// Token is one tagged token in the order it appears in the text.
type Token struct {
	Text     string
	Category Category
}

// Tagger performs syntactic analysis.
type Tagger interface {
	Tag(ctx context.Context, text string) ([]Token, error)
}

// Summarizer builds keyword summaries using a Tagger.
type Summarizer struct {
	tagger Tagger
}

// New creates a Summarizer.
func New(tagger Tagger) *Summarizer {
	return &Summarizer{tagger: tagger}
}

// Summarize truncates text to MaxInputRunes, tags it, keeps the first
// MaxKeywords noun and proper-noun tokens and joins them with single spaces
// followed by Marker. Empty input yields exactly Marker.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = Truncate(text, MaxInputRunes)
	if text == "" {
		return Marker, nil
	}

	tokens, err := s.tagger.Tag(ctx, text)
	if err != nil {
		return "", fmt.Errorf("syntax analysis: %w", err)
	}

	return Keywords(tokens) + Marker, nil
}

// Keywords joins the first MaxKeywords noun/proper-noun tokens with spaces.
func Keywords(tokens []Token) string {
	keywords := make([]string, 0, MaxKeywords)
	for _, tok := range tokens {
		if len(keywords) == MaxKeywords {
			break
		}
		if tok.Category == CategoryNoun || tok.Category == CategoryProperNoun {
			keywords = append(keywords, tok.Text)
		}
	}
	return strings.Join(keywords, " ")
}

// Truncate returns at most max characters (runes) of s.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
