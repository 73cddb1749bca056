package text

import (
	"regexp"
	"sort"
	"strings"
)

// MaxKeywords caps the keywords attached to a chunk.
const MaxKeywords = 10

var keywordRe = regexp.MustCompile(`\b[a-z]{4,}\b`)

var stopWords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "have": {}, "will": {}, "from": {}, "they": {}, "know": {},
	"want": {}, "been": {}, "good": {}, "much": {}, "some": {}, "time": {}, "very": {}, "when": {},
	"come": {}, "here": {}, "just": {}, "like": {}, "long": {}, "make": {}, "many": {}, "over": {},
	"such": {}, "take": {}, "than": {}, "them": {}, "well": {}, "were": {}, "what": {},
}

// ExtractKeywords returns up to max distinct alphabetic terms of four or more
// letters, most frequent first. Ties keep first-seen order.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	freq := make(map[string]int)
	var order []string
	for _, w := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > max {
		order = order[:max]
	}
	return order
}
