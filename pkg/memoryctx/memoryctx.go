// Package memoryctx supplies goal-relevant memory context to the run
// loop. Providers are read-only from the engine's point of view: the
// loop asks once per planning step and injects whatever text comes
// back into the prompt.
package memoryctx

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/metahuman-os/operator/pkg/core"
)

// VectorStore is a minimal vector database client.
type VectorStore interface {
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error)
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
}

// Point is a stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a scored match from a vector search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InMemoryProvider keeps notes in process and retrieves them by
// keyword overlap with the goal text. Useful for tests and for
// running without a vector database.
type InMemoryProvider struct {
	mu    sync.RWMutex
	notes []string
	limit int
}

// NewInMemoryProvider creates an empty provider returning at most
// limit notes per goal.
func NewInMemoryProvider(limit int) *InMemoryProvider {
	if limit <= 0 {
		limit = 5
	}
	return &InMemoryProvider{limit: limit}
}

// Remember stores a note.
func (p *InMemoryProvider) Remember(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	p.mu.Lock()
	p.notes = append(p.notes, note)
	p.mu.Unlock()
}

// GetMemoryContext returns the notes sharing the most words with the
// goal, newest first on ties.
func (p *InMemoryProvider) GetMemoryContext(_ context.Context, goal core.Goal) (core.MemoryContext, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	goalWords := tokenSet(goal.Text)
	type scored struct {
		idx   int
		note  string
		score int
	}
	var matches []scored
	for i, note := range p.notes {
		s := overlap(goalWords, tokenSet(note))
		if s > 0 {
			matches = append(matches, scored{idx: i, note: note, score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].idx > matches[j].idx
	})
	if len(matches) > p.limit {
		matches = matches[:p.limit]
	}
	if len(matches) == 0 {
		return core.MemoryContext{}, nil
	}

	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = "- " + m.note
	}
	return core.MemoryContext{
		Text:     strings.Join(lines, "\n"),
		Metadata: map[string]string{"provider": "inmemory"},
	}, nil
}

// stopwords never count toward keyword overlap; matching on them would
// surface unrelated notes.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {},
	"this": {}, "that": {}, "with": {}, "from": {}, "into": {}, "you": {},
	"your": {}, "has": {}, "have": {}, "had": {}, "not": {}, "but": {},
	"all": {}, "any": {}, "can": {}, "its": {}, "our": {}, "out": {},
	"about": {}, "what": {}, "when": {}, "where": {}, "how": {}, "why": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "should": {},
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		if len(tok) <= 2 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			n++
		}
	}
	return n
}
