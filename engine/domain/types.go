// Package domain defines the content collections, entity types, and error
// taxonomy shared by the indexing and query pipelines. It acts as the
// validation gate at pipeline entry points.
package domain

import "time"

// Collection is a logical content type. Each collection maps 1:1 to a
// vector-store namespace and to a node label in the document store.
type Collection string

const (
	CollectionEvents   Collection = "events"
	CollectionArticles Collection = "articles"
	CollectionProfiles Collection = "profiles"
	CollectionMedia    Collection = "media"
)

// AllCollections lists every indexable collection in a stable order.
var AllCollections = []Collection{
	CollectionEvents, CollectionArticles, CollectionProfiles, CollectionMedia,
}

// ValidCollections is the set of recognised collections.
var ValidCollections = map[Collection]bool{
	CollectionEvents: true, CollectionArticles: true,
	CollectionProfiles: true, CollectionMedia: true,
}

// Entity is any piece of platform content that can be indexed. The
// fingerprint is a change-detection value: the coordinator skips re-indexing
// while it is unchanged.
type Entity interface {
	EntityID() string
	EntityCollection() Collection
	Fingerprint() string
}

// Event is a club event (seminar, meetup, assembly).
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e Event) EntityID() string             { return e.ID }
func (e Event) EntityCollection() Collection { return CollectionEvents }
func (e Event) Fingerprint() string          { return e.UpdatedAt.UTC().Format(time.RFC3339Nano) }

// Article is a published piece of member-facing writing.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Article) EntityID() string             { return a.ID }
func (a Article) EntityCollection() Collection { return CollectionArticles }
func (a Article) Fingerprint() string          { return a.UpdatedAt.UTC().Format(time.RFC3339Nano) }

// Profile is a public member or staff profile.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Interests   []string  `json:"interests,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p Profile) EntityID() string             { return p.ID }
func (p Profile) EntityCollection() Collection { return CollectionProfiles }
func (p Profile) Fingerprint() string          { return p.UpdatedAt.UTC().Format(time.RFC3339Nano) }

// MediaKind distinguishes media entity types.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// MediaItem is an uploaded recording with an optional transcript. Only the
// transcript and caption text is indexable; the binary lives in blob storage.
type MediaItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Kind       MediaKind `json:"kind"`
	Caption    string    `json:"caption,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	ObjectKey  string    `json:"object_key"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (m MediaItem) EntityID() string             { return m.ID }
func (m MediaItem) EntityCollection() Collection { return CollectionMedia }
func (m MediaItem) Fingerprint() string          { return m.UpdatedAt.UTC().Format(time.RFC3339Nano) }

// MediaAsset is a video or image directly associated with an entity, attached
// to search results by the query pipeline.
type MediaAsset struct {
	EntityID   string     `json:"entity_id"`
	Collection Collection `json:"collection"`
	Kind       MediaKind  `json:"kind"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url"`
}

// Attribution is the display metadata an extractor derives from an entity,
// carried through chunking and indexing so search results can cite their
// sources.
type Attribution struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	SourceType string `json:"source_type"`
}

// IndexState is the per-entity indexing metadata record: read before every
// indexing attempt, written after every successful one.
type IndexState struct {
	Collection    Collection `json:"collection"`
	EntityID      string     `json:"entity_id"`
	Fingerprint   string     `json:"fingerprint"`
	ChunkCount    int        `json:"chunk_count"`
	LastIndexedAt time.Time  `json:"last_indexed_at"`
}
