// Package chunker splits extracted text into token-bounded segments with a
// configurable overlap between consecutive segments, preserving context across
// chunk boundaries for retrieval.
package chunker

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

const (
	// DefaultMaxTokens is the target number of fresh tokens per chunk.
	DefaultMaxTokens = 512
	// DefaultOverlap is the number of tokens repeated from the previous chunk.
	DefaultOverlap = 50
)

// Chunk is one bounded segment of an entity's text. Identity is
// (EntityID, Sequence). Chunks live only between extraction and upsert; they
// are never persisted on their own.
type Chunk struct {
	EntityID   string
	Collection domain.Collection
	Sequence   int
	Text       string
	TokenCount int
	Attr       domain.Attribution
}

// Options bounds chunk sizes. MaxTokens limits the fresh tokens added per
// chunk; the Overlap prefix repeated from the previous chunk rides on top of
// that budget.
type Options struct {
	MaxTokens int
	Overlap   int
}

// Chunker produces deterministic chunk sequences. Tokens are whitespace-
// delimited words, the same measure everywhere in the pipeline so MaxTokens
// is enforced exactly rather than approximated.
type Chunker struct {
	opts Options
	log  *slog.Logger
}

// New validates opts and returns a Chunker. A non-positive MaxTokens or an
// overlap that cannot leave room for fresh tokens is a configuration error.
func New(opts Options, log *slog.Logger) (*Chunker, error) {
	if opts.MaxTokens <= 0 {
		return nil, &domain.ConfigError{Param: "max_tokens", Reason: fmt.Sprintf("must be positive, got %d", opts.MaxTokens)}
	}
	if opts.Overlap < 0 {
		return nil, &domain.ConfigError{Param: "overlap_tokens", Reason: fmt.Sprintf("must not be negative, got %d", opts.Overlap)}
	}
	if opts.Overlap >= opts.MaxTokens {
		return nil, &domain.ConfigError{Param: "overlap_tokens", Reason: fmt.Sprintf("overlap %d must be smaller than max_tokens %d", opts.Overlap, opts.MaxTokens)}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Chunker{opts: opts, log: log}, nil
}

// Split chunks text for one entity. Empty or whitespace-only text yields an
// empty sequence. Sentence boundaries are preferred; a single sentence larger
// than MaxTokens is hard-split at the token boundary with a logged warning.
func (c *Chunker) Split(entityID string, collection domain.Collection, text string, attr domain.Attribution) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	// Each group is one sentence's tokens, pre-split so no group exceeds
	// the per-chunk budget.
	var groups [][]string
	for _, sentence := range sentences {
		tokens := strings.Fields(sentence)
		if len(tokens) <= c.opts.MaxTokens {
			groups = append(groups, tokens)
			continue
		}
		c.log.Warn("sentence exceeds chunk budget, hard-splitting",
			"entity_id", entityID,
			"collection", collection,
			"tokens", len(tokens),
			"max_tokens", c.opts.MaxTokens,
		)
		for len(tokens) > 0 {
			n := min(len(tokens), c.opts.MaxTokens)
			groups = append(groups, tokens[:n])
			tokens = tokens[n:]
		}
	}

	var (
		chunks  []Chunk
		fresh   []string
		carry   []string // overlap tokens inherited from the previous chunk
		flushed int
	)
	flush := func() {
		if len(fresh) == 0 {
			return
		}
		full := make([]string, 0, len(carry)+len(fresh))
		full = append(full, carry...)
		full = append(full, fresh...)
		chunks = append(chunks, Chunk{
			EntityID:   entityID,
			Collection: collection,
			Sequence:   flushed,
			Text:       strings.Join(full, " "),
			TokenCount: len(full),
			Attr:       attr,
		})
		flushed++
		carry = tail(full, c.opts.Overlap)
		fresh = nil
	}

	for _, group := range groups {
		if len(fresh)+len(group) > c.opts.MaxTokens && len(fresh) > 0 {
			flush()
		}
		fresh = append(fresh, group...)
	}
	flush()
	return chunks
}

func tail(tokens []string, n int) []string {
	if n <= 0 || len(tokens) == 0 {
		return nil
	}
	if n >= len(tokens) {
		n = len(tokens)
	}
	out := make([]string, n)
	copy(out, tokens[len(tokens)-n:])
	return out
}

// splitSentences splits text into sentences on terminal punctuation and
// newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			// Only a real end-of-sentence: next byte is space or end.
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
