package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"kbrag/models"
)

// vectorEmbedder maps known texts to fixed vectors so retrieval geometry is
// fully controlled by the test fixture.
type vectorEmbedder struct {
	byText map[string][]float32
}

func (e vectorEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	v, ok := e.byText[text]
	if !ok {
		return nil, fmt.Errorf("%w: no fixture vector for %q", ErrProviderError, text)
	}
	return v, nil
}

func (e vectorEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// scriptedReranker scores documents by a fixed text-to-score table.
type scriptedReranker struct {
	scores map[string]float64
	// extra pads the result with bogus trailing scores to simulate a
	// misbehaving provider.
	extra int
}

func (r scriptedReranker) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	out := make([]float64, 0, len(documents)+r.extra)
	for _, d := range documents {
		out = append(out, r.scores[d])
	}
	for i := 0; i < r.extra; i++ {
		out = append(out, 0)
	}
	return out, nil
}

func chunk(text, source string, page, id int) models.Chunk {
	return models.Chunk{
		PageContent: text,
		Metadata:    models.ChunkMetadata{Source: source, Type: models.SourceTypePDF, Page: page, ChunkID: id},
	}
}

// buildRetrievalFixture indexes the given chunks under a temp data dir and
// returns a loaded KB plus the index for wiring into the service.
func buildRetrievalFixture(t *testing.T, chunks []models.Chunk, vectors [][]float32) (*LoadedKB, *FlatIndex) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewKBStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.CreateDirs("kb"); err != nil {
		t.Fatalf("dirs: %v", err)
	}
	index := NewFlatIndex(dir)
	if err := index.Rebuild(context.Background(), "kb", chunks, vectors); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	return &LoadedKB{Name: "kb", Info: &models.KBInfo{ChunkNums: len(chunks)}, Docs: chunks}, index
}

func evidenceTexts(evidence []models.EvidenceItem) []string {
	texts := make([]string, len(evidence))
	for i, e := range evidence {
		texts[i] = e.Chunk.PageContent
	}
	return texts
}

func TestRetrieve_RejectsBadInput(t *testing.T) {
	kb, index := buildRetrievalFixture(t,
		[]models.Chunk{chunk("only", "a.pdf", 1, 0)},
		[][]float32{{1, 0}},
	)
	svc := NewRetrievalService(index, vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}, nil)
	ctx := context.Background()

	if _, err := svc.Retrieve(ctx, kb, "   ", models.RetrievalSettings{TopK: 3}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("blank query: got %v", err)
	}
	if _, err := svc.Retrieve(ctx, kb, "q", models.RetrievalSettings{TopK: 0}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("zero top_k: got %v", err)
	}
	if _, err := svc.Retrieve(ctx, kb, "q", models.RetrievalSettings{Method: "cluster", TopK: 3}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unknown method: got %v", err)
	}
}

func TestRetrieve_BasicOrdersBySimilarity(t *testing.T) {
	kb, index := buildRetrievalFixture(t,
		[]models.Chunk{
			chunk("close", "a.pdf", 1, 0),
			chunk("far", "a.pdf", 2, 1),
			chunk("middle", "a.pdf", 3, 2),
		},
		[][]float32{{1, 0}, {0, 1}, {0.7, 0.7}},
	)
	embedder := vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}
	svc := NewRetrievalService(index, embedder, nil)

	evidence, err := svc.Retrieve(context.Background(), kb, "q",
		models.RetrievalSettings{Method: models.SearchBasic, TopK: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := evidenceTexts(evidence)
	want := []string{"close", "middle"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if evidence[0].Score <= evidence[1].Score {
		t.Fatalf("scores not descending: %v then %v", evidence[0].Score, evidence[1].Score)
	}
}

// Two near-duplicate chunks dominate plain similarity; MMR's second pick must
// be the distinct one.
func TestRetrieve_MMRPrefersDiversity(t *testing.T) {
	chunks := []models.Chunk{
		chunk("apples first", "a.txt", 0, 0),
		chunk("apples again", "a.txt", 0, 1),
		chunk("oranges", "a.txt", 0, 2),
	}
	vectors := [][]float32{
		{1, 0.9},  // apples first
		{1, 0.85}, // apples again, nearly the same direction
		{-1, 1},   // oranges
	}
	kb, index := buildRetrievalFixture(t, chunks, vectors)
	embedder := vectorEmbedder{byText: map[string][]float32{
		"q":            {1, 1},
		"apples first": vectors[0],
		"apples again": vectors[1],
		"oranges":      vectors[2],
	}}
	svc := NewRetrievalService(index, embedder, nil)
	ctx := context.Background()

	basic, err := svc.Retrieve(ctx, kb, "q",
		models.RetrievalSettings{Method: models.SearchBasic, TopK: 2})
	if err != nil {
		t.Fatalf("basic: %v", err)
	}
	if got := evidenceTexts(basic); got[0] != "apples first" || got[1] != "apples again" {
		t.Fatalf("basic should return the duplicates, got %v", got)
	}

	diverse, err := svc.Retrieve(ctx, kb, "q",
		models.RetrievalSettings{Method: models.SearchMMR, TopK: 2, TopN: 3})
	if err != nil {
		t.Fatalf("mmr: %v", err)
	}
	if got := evidenceTexts(diverse); got[0] != "apples first" || got[1] != "oranges" {
		t.Fatalf("mmr should swap the near-duplicate for a diverse chunk, got %v", got)
	}
	for _, e := range diverse {
		if e.Score != 1.0 {
			t.Fatalf("mmr evidence carries synthetic score 1.0, got %v", e.Score)
		}
	}
}

func TestRetrieve_RerankingOrdersByRerankScore(t *testing.T) {
	chunks := []models.Chunk{
		chunk("alpha", "a.pdf", 1, 0),
		chunk("beta", "a.pdf", 2, 1),
		chunk("gamma", "a.pdf", 3, 2),
	}
	kb, index := buildRetrievalFixture(t, chunks, [][]float32{{1, 0}, {0.9, 0.1}, {0.8, 0.2}})
	embedder := vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}
	reranker := scriptedReranker{scores: map[string]float64{"alpha": 0.2, "beta": 0.9, "gamma": 0.5}}
	svc := NewRetrievalService(index, embedder, reranker)

	evidence, err := svc.Retrieve(context.Background(), kb, "q",
		models.RetrievalSettings{Method: models.SearchReranking, TopK: 2, TopN: 3})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got := evidenceTexts(evidence)
	if len(got) != 2 || got[0] != "beta" || got[1] != "gamma" {
		t.Fatalf("rerank order wrong: %v", got)
	}
	if evidence[0].Score != 0.9 || evidence[1].Score != 0.5 {
		t.Fatalf("evidence should carry rerank scores, got %v %v", evidence[0].Score, evidence[1].Score)
	}
}

func TestRetrieve_RerankingRejectsScoreCountMismatch(t *testing.T) {
	kb, index := buildRetrievalFixture(t,
		[]models.Chunk{chunk("alpha", "a.pdf", 1, 0)},
		[][]float32{{1, 0}},
	)
	embedder := vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}
	svc := NewRetrievalService(index, embedder, scriptedReranker{extra: 2})

	_, err := svc.Retrieve(context.Background(), kb, "q",
		models.RetrievalSettings{Method: models.SearchReranking, TopK: 1})
	if !errors.Is(err, ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

// Whole-source assembly: the top reranked chunk names a source; the result is
// that source's entire text in page order, not the isolated chunk.
func TestRetrieve_CustomRAGAssemblesWholeSourceInPageOrder(t *testing.T) {
	chunks := []models.Chunk{
		chunk("x page two", "x.pdf", 2, 0),
		chunk("x page one", "x.pdf", 1, 1),
		chunk("x page three", "x.pdf", 3, 2),
		chunk("y only page", "y.pdf", 1, 3),
	}
	kb, index := buildRetrievalFixture(t, chunks,
		[][]float32{{1, 0}, {0.5, 0.5}, {0.4, 0.6}, {0, 1}})
	embedder := vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}
	reranker := scriptedReranker{scores: map[string]float64{
		"x page two": 0.9, "x page one": 0.1, "x page three": 0.1, "y only page": 0.2,
	}}
	svc := NewRetrievalService(index, embedder, reranker)

	evidence, err := svc.Retrieve(context.Background(), kb, "q",
		models.RetrievalSettings{Method: models.SearchCustomRAG, TopK: 1, TopN: 4})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("expected one assembled document, got %d", len(evidence))
	}
	doc := evidence[0]
	if doc.Chunk.Metadata.Source != "x.pdf" {
		t.Fatalf("assembled wrong source: %q", doc.Chunk.Metadata.Source)
	}
	want := strings.Join([]string{"x page one", "x page two", "x page three"}, "\n\n")
	if doc.Chunk.PageContent != want {
		t.Fatalf("assembled text out of page order:\n%q\nwant:\n%q", doc.Chunk.PageContent, want)
	}
	if doc.Score != 1.0 {
		t.Fatalf("assembled evidence carries score 1.0, got %v", doc.Score)
	}
}

func TestRetrieve_CustomRAGKeepsDistinctSources(t *testing.T) {
	chunks := []models.Chunk{
		chunk("x text", "x.pdf", 1, 0),
		chunk("y text", "y.pdf", 1, 1),
	}
	kb, index := buildRetrievalFixture(t, chunks, [][]float32{{1, 0}, {0.9, 0.1}})
	embedder := vectorEmbedder{byText: map[string][]float32{"q": {1, 0}}}
	reranker := scriptedReranker{scores: map[string]float64{"x text": 0.9, "y text": 0.8}}
	svc := NewRetrievalService(index, embedder, reranker)

	evidence, err := svc.Retrieve(context.Background(), kb, "q",
		models.RetrievalSettings{Method: models.SearchCustomRAG, TopK: 2, TopN: 2})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected one document per source, got %d", len(evidence))
	}
	if evidence[0].Chunk.Metadata.Source != "x.pdf" || evidence[1].Chunk.Metadata.Source != "y.pdf" {
		t.Fatalf("sources wrong or out of rerank order: %q, %q",
			evidence[0].Chunk.Metadata.Source, evidence[1].Chunk.Metadata.Source)
	}
}
