package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// MaxPostLength is the maximum length of a post in characters
const MaxPostLength = 280

var (
	ErrDraftEmpty   = errors.New("draft is empty")
	ErrDraftTooLong = errors.New("draft exceeds maximum length")
)

// blockedFragments reject drafts where the model broke character. Matching
// is case-insensitive.
var blockedFragments = []string{
	"as an ai",
	"as a language model",
	"i cannot fulfill",
	"i can't fulfill",
	"i cannot comply",
	"[insert",
}

// CleanDraft normalizes generated text: trims whitespace and strips one
// layer of wrapping quotes, which models add no matter how firmly the
// prompt forbids them.
func CleanDraft(text string) string {
	text = strings.TrimSpace(text)

	pairs := [][2]string{
		{`"`, `"`},
		{"'", "'"},
		{"\u201c", "\u201d"},
		{"\u2018", "\u2019"},
	}
	for _, pair := range pairs {
		if len(text) >= 2 && strings.HasPrefix(text, pair[0]) && strings.HasSuffix(text, pair[1]) {
			text = strings.TrimSpace(text[len(pair[0]) : len(text)-len(pair[1])])
			break
		}
	}
	return text
}

// ValidateDraft rejects drafts that are empty, over length, or contain a
// blocked fragment. It never mutates; call CleanDraft first.
func ValidateDraft(text string) error {
	if text == "" {
		return ErrDraftEmpty
	}
	if length := len([]rune(text)); length > MaxPostLength {
		return fmt.Errorf("%w: %d > %d", ErrDraftTooLong, length, MaxPostLength)
	}

	lower := strings.ToLower(text)
	for _, fragment := range blockedFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("draft contains blocked fragment %q", fragment)
		}
	}
	return nil
}
