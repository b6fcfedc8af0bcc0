package memoryctx

import (
	"context"
	"strings"
	"testing"

	"github.com/metahuman-os/operator/pkg/core"
)

func TestInMemoryProviderKeywordMatch(t *testing.T) {
	p := NewInMemoryProvider(2)
	p.Remember("the user prefers markdown reports")
	p.Remember("quarterly report template lives in /srv/templates")
	p.Remember("the cat is named Miso")

	mc, err := p.GetMemoryContext(context.Background(), core.Goal{Text: "write the quarterly report"})
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if !strings.Contains(mc.Text, "quarterly report template") {
		t.Errorf("expected template note in context, got %q", mc.Text)
	}
	if strings.Contains(mc.Text, "Miso") {
		t.Errorf("unrelated note leaked into context: %q", mc.Text)
	}
}

func TestInMemoryProviderIgnoresStopwords(t *testing.T) {
	p := NewInMemoryProvider(5)
	p.Remember("the cat is named Miso")
	p.Remember("the dog will not come when called")

	mc, err := p.GetMemoryContext(context.Background(), core.Goal{Text: "what is the status of the deploy"})
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if mc.Text != "" {
		t.Errorf("stopword-only overlap surfaced notes: %q", mc.Text)
	}
}

func TestInMemoryProviderNoMatch(t *testing.T) {
	p := NewInMemoryProvider(5)
	p.Remember("the user prefers markdown")

	mc, err := p.GetMemoryContext(context.Background(), core.Goal{Text: "restart nginx"})
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	if mc.Text != "" {
		t.Errorf("expected empty context, got %q", mc.Text)
	}
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{float32(len(text)), 1, 0}, nil
}

type fakeStore struct {
	upserted []Point
	results  []SearchResult
}

func (f *fakeStore) Upsert(_ context.Context, _ string, points []Point) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ []float32, _ int, _ float32) ([]SearchResult, error) {
	return f.results, nil
}

func (f *fakeStore) CreateCollection(_ context.Context, _ string, _ uint64) error {
	return nil
}

func TestVectorProviderRememberAndRetrieve(t *testing.T) {
	store := &fakeStore{
		results: []SearchResult{
			{ID: "a", Score: 0.9, Payload: map[string]any{"text": "deploys happen on fridays"}},
			{ID: "b", Score: 0.7, Payload: map[string]any{"text": "staging is at 10.0.0.5"}},
			{ID: "c", Score: 0.65, Payload: map[string]any{"note": "no text key"}},
		},
	}
	emb := &fakeEmbedder{}
	p := NewVectorProvider(store, emb, "notes")

	if err := p.Remember(context.Background(), "deploys happen on fridays"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(store.upserted) != 1 {
		t.Fatalf("expected 1 upserted point, got %d", len(store.upserted))
	}
	if store.upserted[0].Payload["text"] != "deploys happen on fridays" {
		t.Errorf("unexpected payload: %v", store.upserted[0].Payload)
	}

	mc, err := p.GetMemoryContext(context.Background(), core.Goal{Text: "when do we deploy?"})
	if err != nil {
		t.Fatalf("GetMemoryContext: %v", err)
	}
	want := "- deploys happen on fridays\n- staging is at 10.0.0.5"
	if mc.Text != want {
		t.Errorf("context text = %q, want %q", mc.Text, want)
	}
	if mc.Metadata["provider"] != "vector" {
		t.Errorf("metadata provider = %q", mc.Metadata["provider"])
	}
}

func TestVectorProviderEmptyNoteIsNoop(t *testing.T) {
	store := &fakeStore{}
	p := NewVectorProvider(store, &fakeEmbedder{}, "notes")
	if err := p.Remember(context.Background(), "   "); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if len(store.upserted) != 0 {
		t.Errorf("expected no upsert for blank note")
	}
}
