package query

import (
	"testing"

	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/engine/semantic"
)

func TestRelatedQueriesUsesKeywordsWhenTitlesRunOut(t *testing.T) {
	m := match(domain.CollectionArticles, "a-1",
		"Pruning roses. Pruning hydrangeas. Pruning apple trees keeps them healthy.",
		"Pruning Guide", 0.9)
	got := relatedQueries("garden care", []semantic.Match{m}, 4)

	if len(got) == 0 || got[0] != "pruning guide" {
		t.Fatalf("related = %v", got)
	}
	// "pruning" appears three times in the matched text and not in the query.
	found := false
	for _, r := range got[1:] {
		if r == "garden care pruning" {
			found = true
		}
	}
	if !found {
		t.Errorf("frequent keyword suggestion missing: %v", got)
	}
}

func TestRelatedQueriesEmptyMatches(t *testing.T) {
	if got := relatedQueries("anything", nil, 4); len(got) != 0 {
		t.Errorf("related = %v", got)
	}
}

func TestExtractKeywordsFiltersStopWords(t *testing.T) {
	got := extractKeywords("What is the best time for pruning?")
	want := map[string]bool{"best": true, "time": true, "pruning": true}
	if len(got) != len(want) {
		t.Fatalf("keywords = %v", got)
	}
	for _, w := range got {
		if !want[w] {
			t.Errorf("unexpected keyword %q", w)
		}
	}
}
