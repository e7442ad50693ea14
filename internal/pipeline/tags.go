package pipeline

import (
	"strings"

	"github.com/daverage/mnemo/internal/memory"
)

// tagSignals maps a tag to the vocabulary that implies it. Matching is by
// phrase containment on the lower-cased text.
var tagSignals = map[string][]string{
	"preference": {"favorite", "prefer", "like", "love", "hate", "enjoy"},
	"identity":   {"my name", "i am", "i'm", "call me", "years old"},
	"family":     {"wife", "husband", "mother", "father", "sister", "brother", "son", "daughter", "family"},
	"work":       {"work", "job", "company", "career", "office", "colleague"},
	"memory":     {"remember", "recall", "important"},
}

// Tag emission order, so extracted tags are deterministic.
var tagOrder = []string{"preference", "identity", "family", "work", "memory"}

// ExtractTags derives category tags from free text. It returns nil when
// nothing matches; callers treat that as "no tags", not an error.
func ExtractTags(text string) []string {
	lower := strings.ToLower(text)

	var tags []string
	for _, tag := range tagOrder {
		for _, signal := range tagSignals[tag] {
			if strings.Contains(lower, signal) {
				tags = append(tags, tag)
				break
			}
		}
	}
	return tags
}

// InferImportance promotes records carrying durable personal facts.
// Identity and preference statements matter most for future recall;
// anything else that still earned a tag is middling.
func InferImportance(text string, tags []string) memory.Importance {
	if strings.Contains(strings.ToLower(text), "important") {
		return memory.ImportanceHigh
	}
	for _, tag := range tags {
		if tag == "identity" || tag == "preference" {
			return memory.ImportanceHigh
		}
	}
	if len(tags) > 0 {
		return memory.ImportanceMedium
	}
	return memory.ImportanceLow
}
