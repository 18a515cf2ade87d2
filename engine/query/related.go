package query

import (
	"strings"

	"github.com/pavilion-app/pavilion-search/engine/semantic"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"through": true, "during": true, "before": true, "after": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"who": true, "whom": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "me": true, "my": true, "it": true,
	"its": true, "and": true, "but": true, "or": true, "not": true,
}

// relatedQueries derives up to max suggestions from the matched content
// itself, never from the synthesized answer, so suggestions survive synthesis
// outages. Titles of matched sources come first, then frequent keywords from
// the matched text that the query did not already contain.
func relatedQueries(q string, matches []semantic.Match, max int) []string {
	if len(matches) == 0 || max <= 0 {
		return []string{}
	}

	qLower := strings.ToLower(q)
	qTerms := make(map[string]bool)
	for _, w := range extractKeywords(qLower) {
		qTerms[w] = true
	}

	out := []string{}
	seen := map[string]bool{qLower: true}
	add := func(s string) {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || seen[s] || len(out) >= max {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, m := range matches {
		add(m.Attr.Title)
	}

	if len(out) < max {
		// Frequency-ranked keywords across matched chunk text.
		counts := make(map[string]int)
		var order []string
		for _, m := range matches {
			for _, w := range extractKeywords(m.Text) {
				if qTerms[w] {
					continue
				}
				if counts[w] == 0 {
					order = append(order, w)
				}
				counts[w]++
			}
		}
		// Stable pick: first-seen order among the most frequent.
		for threshold := 3; threshold >= 2 && len(out) < max; threshold-- {
			for _, w := range order {
				if counts[w] == threshold {
					add(qLower + " " + w)
				}
			}
		}
	}
	return out
}

// extractKeywords does simple keyword extraction: split, strip punctuation,
// drop short and stop words.
func extractKeywords(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	var keywords []string
	for _, w := range words {
		w = strings.Trim(w, "?.,!;:'\"")
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}
