package tokens

import (
	"strings"
	"unicode/utf8"
)

// Estimate approximates the language-model token count of a text.
// It uses the common ~4 characters per token ratio, with a word-count
// floor so that short, whitespace-heavy text is not underestimated.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	charEstimate := utf8.RuneCountInString(text) / 4
	wordEstimate := len(strings.Fields(text))

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	if charEstimate == 0 {
		return 1
	}
	return charEstimate
}
