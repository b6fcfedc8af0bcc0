package memoryctx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metahuman-os/operator/pkg/core"
)

// VectorProvider retrieves memory context by semantic search over a
// vector store.
type VectorProvider struct {
	store      VectorStore
	embedder   Embedder
	collection string
	limit      int
	threshold  float32
}

// VectorOption configures a VectorProvider.
type VectorOption func(*VectorProvider)

// WithSearchLimit caps the number of matches per goal.
func WithSearchLimit(n int) VectorOption {
	return func(p *VectorProvider) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithScoreThreshold sets the minimum similarity score.
func WithScoreThreshold(t float32) VectorOption {
	return func(p *VectorProvider) {
		p.threshold = t
	}
}

// NewVectorProvider creates a provider over the given store and
// embedder.
func NewVectorProvider(store VectorStore, embedder Embedder, collection string, opts ...VectorOption) *VectorProvider {
	p := &VectorProvider{
		store:      store,
		embedder:   embedder,
		collection: collection,
		limit:      5,
		threshold:  0.6,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize ensures the collection exists, probing the embedder once
// for the vector dimension. Creation failure is tolerated when the
// collection is already searchable.
func (p *VectorProvider) Initialize(ctx context.Context) error {
	vec, err := p.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("probe embedding dimension: %w", err)
	}
	if err := p.store.CreateCollection(ctx, p.collection, uint64(len(vec))); err != nil {
		if _, searchErr := p.store.Search(ctx, p.collection, vec, 1, 0); searchErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// Remember embeds and stores a note.
func (p *VectorProvider) Remember(ctx context.Context, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	vector, err := p.embedder.Embed(ctx, note)
	if err != nil {
		return fmt.Errorf("embed note: %w", err)
	}
	point := Point{
		ID:     uuid.New().String(),
		Vector: vector,
		Payload: map[string]any{
			"text":      note,
			"timestamp": time.Now().Unix(),
		},
	}
	if err := p.store.Upsert(ctx, p.collection, []Point{point}); err != nil {
		return fmt.Errorf("store note: %w", err)
	}
	return nil
}

// GetMemoryContext embeds the goal and returns the matching notes
// joined as a bullet list, best match first.
func (p *VectorProvider) GetMemoryContext(ctx context.Context, goal core.Goal) (core.MemoryContext, error) {
	vector, err := p.embedder.Embed(ctx, goal.Text)
	if err != nil {
		return core.MemoryContext{}, fmt.Errorf("embed goal: %w", err)
	}
	results, err := p.store.Search(ctx, p.collection, vector, p.limit, p.threshold)
	if err != nil {
		return core.MemoryContext{}, fmt.Errorf("search memory: %w", err)
	}

	var lines []string
	for _, r := range results {
		if text, ok := r.Payload["text"].(string); ok && text != "" {
			lines = append(lines, "- "+text)
		}
	}
	if len(lines) == 0 {
		return core.MemoryContext{}, nil
	}
	return core.MemoryContext{
		Text: strings.Join(lines, "\n"),
		Metadata: map[string]string{
			"provider":   "vector",
			"collection": p.collection,
		},
	}, nil
}
