package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

var collectionLabels = map[domain.Collection]string{
	domain.CollectionEvents:   "Event",
	domain.CollectionArticles: "Article",
	domain.CollectionProfiles: "Profile",
	domain.CollectionMedia:    "MediaItem",
}

// ListEntities returns every entity in a collection, ordered by id for
// deterministic runs.
func (s *Store) ListEntities(ctx context.Context, collection domain.Collection) ([]domain.Entity, error) {
	label, ok := collectionLabels[collection]
	if !ok {
		return nil, fmt.Errorf("list entities: %w: %s", domain.ErrUnknownCollection, collection)
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n ORDER BY n.id", label)
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, domain.Transient("docstore.list", err)
	}

	var entities []domain.Entity
	for res.Next(ctx) {
		node, ok := nodeValue(res.Record(), "n")
		if !ok {
			continue
		}
		e, err := entityFromProps(collection, node.Props)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := res.Err(); err != nil {
		return nil, domain.Transient("docstore.list", err)
	}
	return entities, nil
}

func nodeValue(rec *neo4j.Record, key string) (dbtype.Node, bool) {
	raw, ok := rec.Get(key)
	if !ok {
		return dbtype.Node{}, false
	}
	node, ok := raw.(dbtype.Node)
	return node, ok
}

func entityFromProps(collection domain.Collection, props map[string]any) (domain.Entity, error) {
	switch collection {
	case domain.CollectionEvents:
		return domain.Event{
			ID:          strProp(props, "id"),
			Title:       strProp(props, "title"),
			Description: strProp(props, "description"),
			Location:    strProp(props, "location"),
			StartsAt:    timeProp(props, "starts_at"),
			UpdatedAt:   timeProp(props, "updated_at"),
		}, nil
	case domain.CollectionArticles:
		return domain.Article{
			ID:        strProp(props, "id"),
			Title:     strProp(props, "title"),
			Body:      strProp(props, "body"),
			Author:    strProp(props, "author"),
			Tags:      strSliceProp(props, "tags"),
			UpdatedAt: timeProp(props, "updated_at"),
		}, nil
	case domain.CollectionProfiles:
		return domain.Profile{
			ID:          strProp(props, "id"),
			DisplayName: strProp(props, "display_name"),
			Role:        strProp(props, "role"),
			Bio:         strProp(props, "bio"),
			Interests:   strSliceProp(props, "interests"),
			UpdatedAt:   timeProp(props, "updated_at"),
		}, nil
	case domain.CollectionMedia:
		return domain.MediaItem{
			ID:         strProp(props, "id"),
			Title:      strProp(props, "title"),
			Kind:       domain.MediaKind(strProp(props, "kind")),
			Caption:    strProp(props, "caption"),
			Transcript: strProp(props, "transcript"),
			ObjectKey:  strProp(props, "object_key"),
			UpdatedAt:  timeProp(props, "updated_at"),
		}, nil
	}
	return nil, fmt.Errorf("entity from props: %w: %s", domain.ErrUnknownCollection, collection)
}

// EntityRef identifies one entity across collections.
type EntityRef struct {
	Collection domain.Collection
	EntityID   string
}

// MediaForEntities returns the media assets attached to the given entities,
// with object keys resolved to public URLs. Entities without media simply
// contribute nothing.
func (s *Store) MediaForEntities(ctx context.Context, refs []EntityRef) ([]domain.MediaAsset, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	sess := s.session(ctx)
	defer sess.Close(ctx)

	pairs := make([]any, 0, len(refs))
	for _, ref := range refs {
		pairs = append(pairs, map[string]any{
			"collection": string(ref.Collection),
			"entity_id":  ref.EntityID,
		})
	}

	cypher := `UNWIND $refs AS ref
MATCH (m:MediaAsset {collection: ref.collection, entity_id: ref.entity_id})
RETURN m`
	res, err := sess.Run(ctx, cypher, map[string]any{"refs": pairs})
	if err != nil {
		return nil, domain.Transient("docstore.media", err)
	}

	var assets []domain.MediaAsset
	for res.Next(ctx) {
		node, ok := nodeValue(res.Record(), "m")
		if !ok {
			continue
		}
		assets = append(assets, domain.MediaAsset{
			EntityID:   strProp(node.Props, "entity_id"),
			Collection: domain.Collection(strProp(node.Props, "collection")),
			Kind:       domain.MediaKind(strProp(node.Props, "kind")),
			Title:      strProp(node.Props, "title"),
			URL:        s.resolveURL(strProp(node.Props, "object_key")),
		})
	}
	if err := res.Err(); err != nil {
		return nil, domain.Transient("docstore.media", err)
	}
	return assets, nil
}

func (s *Store) resolveURL(objectKey string) string {
	if objectKey == "" {
		return ""
	}
	if s.mediaBaseURL == "" {
		return objectKey
	}
	return s.mediaBaseURL + "/" + objectKey
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func timeProp(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

func strSliceProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intProp(props map[string]any, key string) int64 {
	switch v := props[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
