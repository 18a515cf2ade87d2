// Package extract maps platform entities into chunkable text plus the
// attribution metadata search results cite. Extraction is a pure mapping; a
// missing optional field is simply omitted and an entity with no usable text
// yields an empty string, which the indexing coordinator treats as nothing to
// index.
package extract

import (
	"fmt"
	"strings"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// Source types carried in attribution metadata, one per collection.
const (
	SourceEvent   = "event"
	SourceArticle = "article"
	SourceProfile = "profile"
	SourceMedia   = "media"
)

// Text flattens an entity into one normalized text block and its attribution.
func Text(entity domain.Entity) (string, domain.Attribution) {
	switch e := entity.(type) {
	case domain.Event:
		return event(e)
	case domain.Article:
		return article(e)
	case domain.Profile:
		return profile(e)
	case domain.MediaItem:
		return media(e)
	}
	return "", domain.Attribution{}
}

func event(e domain.Event) (string, domain.Attribution) {
	parts := fields(e.Title, e.Description)
	if e.Location != "" {
		parts = append(parts, "Location: "+e.Location)
	}
	if !e.StartsAt.IsZero() {
		parts = append(parts, "Starts: "+e.StartsAt.Format("Monday, 2 January 2006 15:04"))
	}
	return join(parts), domain.Attribution{
		Title:      fallback(e.Title, "Event"),
		URL:        canonicalURL(domain.CollectionEvents, e.ID),
		SourceType: SourceEvent,
	}
}

func article(a domain.Article) (string, domain.Attribution) {
	parts := fields(a.Title, a.Body)
	if a.Author != "" {
		parts = append(parts, "By "+a.Author)
	}
	if len(a.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(a.Tags, ", "))
	}
	return join(parts), domain.Attribution{
		Title:      fallback(a.Title, "Article"),
		URL:        canonicalURL(domain.CollectionArticles, a.ID),
		SourceType: SourceArticle,
	}
}

func profile(p domain.Profile) (string, domain.Attribution) {
	parts := fields(p.DisplayName, p.Bio)
	if p.Role != "" {
		parts = append(parts, "Role: "+p.Role)
	}
	if len(p.Interests) > 0 {
		parts = append(parts, "Interests: "+strings.Join(p.Interests, ", "))
	}
	return join(parts), domain.Attribution{
		Title:      fallback(p.DisplayName, "Member"),
		URL:        canonicalURL(domain.CollectionProfiles, p.ID),
		SourceType: SourceProfile,
	}
}

// media indexes only the caption and transcript text; the binary itself lives
// in blob storage and is never read here.
func media(m domain.MediaItem) (string, domain.Attribution) {
	parts := fields(m.Title, m.Caption, m.Transcript)
	return join(parts), domain.Attribution{
		Title:      fallback(m.Title, "Media"),
		URL:        canonicalURL(domain.CollectionMedia, m.ID),
		SourceType: SourceMedia,
	}
}

func canonicalURL(collection domain.Collection, id string) string {
	return fmt.Sprintf("/%s/%s", collection, id)
}

func fields(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// join concatenates blocks with sentence-ish separation so downstream
// chunking sees boundaries between fields.
func join(parts []string) string {
	for i, p := range parts {
		if !strings.HasSuffix(p, ".") && !strings.HasSuffix(p, "!") && !strings.HasSuffix(p, "?") {
			parts[i] = p + "."
		}
	}
	return strings.Join(parts, " ")
}
