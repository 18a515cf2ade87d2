package semantic

import (
	"time"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// Record is one indexed chunk as stored in Qdrant. Records for an entity are
// replaced wholesale when its content changes.
type Record struct {
	ID        string
	Embedding []float32
	Namespace domain.Collection
	EntityID  string
	Sequence  int
	Text      string
	Attr      domain.Attribution
	IndexedAt time.Time
}

// Match is a single similarity hit with its payload decoded.
type Match struct {
	ID        string
	Score     float32
	Namespace domain.Collection
	EntityID  string
	Sequence  int
	Text      string
	Attr      domain.Attribution
}
