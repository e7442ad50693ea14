package router

import "strings"

// Keyword vocabularies driving the rule table. Matching is on lower-cased
// whole tokens, so "know" does not fire on "knowledge".
var (
	memoryKeywords = tokenSet(
		"remember", "recall", "know", "discussed", "mentioned", "told", "said",
	)
	personalKeywords = tokenSet(
		"my", "me", "i", "myself", "about", "tell",
	)
	simpleGreetings = tokenSet(
		"hi", "hello", "hey", "thanks", "yes", "no", "ok", "bye",
	)
	webKeywords = tokenSet(
		"current", "latest", "today", "news", "weather", "search",
	)

	// Phrase matches, checked against the raw lower-cased query.
	personalSharingPhrases = []string{
		"my ", "i am ", "i'm ", "i have ", "i work ", "i live ",
	}
)

func tokenSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// tokenize lower-cases and splits a query, trimming surrounding punctuation
// from each token.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func containsAny(tokens []string, set map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func countMatches(tokens []string, set map[string]struct{}) int {
	n := 0
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}

// isSimpleGreeting fires only for messages of at most two tokens built from
// greeting vocabulary, so "hello, can you recall my address" is not a
// greeting.
func isSimpleGreeting(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > 2 {
		return false
	}
	for _, t := range tokens {
		if _, ok := simpleGreetings[t]; !ok {
			return false
		}
	}
	return true
}

// mentionsRecall reports whether any of the recent conversation snippets
// contains memory-recall vocabulary.
func mentionsRecall(snippets []string) bool {
	for _, s := range snippets {
		if containsAny(tokenize(s), memoryKeywords) {
			return true
		}
	}
	return false
}

// sharesPersonalInfo checks the phrase forms that signal the user is
// stating facts about themselves rather than asking.
func sharesPersonalInfo(query string) bool {
	lower := " " + strings.ToLower(query)
	for _, phrase := range personalSharingPhrases {
		if strings.Contains(lower, " "+phrase) {
			return true
		}
	}
	return false
}
