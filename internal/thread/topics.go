package thread

import "strings"

// maxNewTopics bounds how many novel keywords one message can contribute.
const maxNewTopics = 5

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "his": {}, "has": {}, "have": {}, "had": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "they": {}, "will": {},
	"would": {}, "there": {}, "their": {}, "what": {}, "about": {},
	"which": {}, "when": {}, "your": {}, "just": {}, "like": {}, "into": {},
	"also": {}, "than": {}, "then": {}, "them": {}, "some": {}, "been": {},
	"were": {}, "because": {}, "very": {}, "should": {}, "could": {},
	"here": {}, "how": {}, "who": {}, "why": {}, "where": {}, "its": {},
	"it's": {}, "don't": {}, "i'm": {}, "you're": {},
}

// ExtractKeywords pulls up to max best-effort topic tokens from content:
// lowercased, punctuation stripped, stop words dropped, tokens longer than
// two characters, first occurrences only.
func ExtractKeywords(content string, max int) []string {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.Fields(strings.ToLower(content)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
		})
		if len(token) <= 2 {
			continue
		}
		if _, skip := stopWords[token]; skip {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
		if len(out) == max {
			break
		}
	}
	return out
}

// mergeTopics appends novel candidates to existing, keeping insertion order
// and capping the total. Oldest topics are kept; new ones are dropped once
// the cap is hit.
func mergeTopics(existing, candidates []string, limit int) []string {
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t] = struct{}{}
	}
	for _, c := range candidates {
		if len(existing) >= limit {
			break
		}
		if _, dup := have[c]; dup {
			continue
		}
		have[c] = struct{}{}
		existing = append(existing, c)
	}
	return existing
}
