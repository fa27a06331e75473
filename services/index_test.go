package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"kbrag/models"
)

func indexChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			PageContent: "chunk",
			Metadata:    models.ChunkMetadata{Source: "a.txt", Type: models.SourceTypeText, ChunkID: i},
		}
	}
	return chunks
}

func TestFlatIndex_SearchOrdersBySimilarity(t *testing.T) {
	dir := t.TempDir()
	idx := NewFlatIndex(dir)
	if err := os.MkdirAll(idx.dataDir+"/kb", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	vectors := [][]float32{
		{1, 0},   // chunk 0, aligned with the query
		{0, 1},   // chunk 1, orthogonal
		{0.9, 1}, // chunk 2, in between
	}
	if err := idx.Rebuild(context.Background(), "kb", indexChunks(3), vectors); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	hits, err := idx.Search(context.Background(), "kb", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != 0 || hits[1].ChunkID != 2 || hits[2].ChunkID != 1 {
		t.Fatalf("wrong order: %v %v %v", hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID)
	}
	if hits[0].Score < hits[1].Score || hits[1].Score < hits[2].Score {
		t.Fatalf("scores not descending")
	}
	if len(hits[0].Vector) != 2 {
		t.Fatalf("expected stored vector on hit")
	}
}

func TestFlatIndex_SearchBoundsK(t *testing.T) {
	dir := t.TempDir()
	idx := NewFlatIndex(dir)
	if err := os.MkdirAll(idx.dataDir+"/kb", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	vectors := [][]float32{{1, 0}, {0, 1}}
	if err := idx.Rebuild(context.Background(), "kb", indexChunks(2), vectors); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	hits, err := idx.Search(context.Background(), "kb", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits when k exceeds population, got %d", len(hits))
	}
}

func TestFlatIndex_CountAndDrop(t *testing.T) {
	dir := t.TempDir()
	idx := NewFlatIndex(dir)
	if err := os.MkdirAll(idx.dataDir+"/kb", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := idx.Rebuild(context.Background(), "kb", indexChunks(4), [][]float32{{1}, {2}, {3}, {4}}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	count, err := idx.Count(context.Background(), "kb")
	if err != nil || count != 4 {
		t.Fatalf("expected count 4, got %d (%v)", count, err)
	}

	if err := idx.Drop(context.Background(), "kb"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := idx.Count(context.Background(), "kb"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after drop, got %v", err)
	}
	// Dropping twice is a no-op.
	if err := idx.Drop(context.Background(), "kb"); err != nil {
		t.Fatalf("second drop: %v", err)
	}
}

func TestFlatIndex_RebuildRejectsMismatchedVectors(t *testing.T) {
	idx := NewFlatIndex(t.TempDir())
	err := idx.Rebuild(context.Background(), "kb", indexChunks(2), [][]float32{{1}})
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Fatalf("expected ErrStorageCorrupt, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.99 {
		t.Fatalf("expected ~1, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got > 0.01 {
		t.Fatalf("expected ~0, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 0}); got != 0 {
		t.Fatalf("zero vector should score 0, got %f", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("dimension mismatch should score 0, got %f", got)
	}
}
