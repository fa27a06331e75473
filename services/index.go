package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"kbrag/models"
)

// Hit is one nearest-neighbor result: the positional chunk id in the
// knowledge base's document store, the similarity score (higher is more
// similar), and the stored vector when the backend can return it.
type Hit struct {
	ChunkID int
	Score   float64
	Vector  []float32
}

// VectorIndex holds one vector per chunk, keyed by knowledge-base name, and
// supports nearest-neighbor search. The underlying structure has no
// incremental update primitive: every mutation goes through Rebuild, which
// replaces the whole population. Keeping the contract this coarse lets a
// backend with true upsert/delete slot in later without changing the
// manager.
type VectorIndex interface {
	Rebuild(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error)
	Count(ctx context.Context, name string) (int, error)
	Drop(ctx context.Context, name string) error
}

const indexFileName = "index.json"

// flatIndexFile is the persisted form of a flat index: vectors stored
// positionally, vector i belonging to chunk_id i in documents.json.
type flatIndexFile struct {
	Dim     int         `json:"dim"`
	Vectors [][]float32 `json:"vectors"`
}

// FlatIndex is the default backend: an exhaustive cosine-similarity index
// persisted as index.json inside each knowledge base's directory.
type FlatIndex struct {
	dataDir string
}

func NewFlatIndex(dataDir string) *FlatIndex {
	return &FlatIndex{dataDir: dataDir}
}

func (f *FlatIndex) path(name string) string {
	return filepath.Join(f.dataDir, name, indexFileName)
}

func (f *FlatIndex) Rebuild(_ context.Context, name string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", ErrStorageCorrupt, len(chunks), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	file := flatIndexFile{Dim: dim, Vectors: vectors}
	payload, err := json.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return writeFileAtomic(f.path(name), payload)
}

func (f *FlatIndex) load(name string) (*flatIndexFile, error) {
	raw, err := os.ReadFile(f.path(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: index artifact for %q", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read index for %q: %w", name, err)
	}
	var file flatIndexFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: unreadable index for %q: %v", ErrStorageCorrupt, name, err)
	}
	return &file, nil
}

func (f *FlatIndex) Search(_ context.Context, name string, query []float32, k int) ([]Hit, error) {
	file, err := f.load(name)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(file.Vectors))
	for i, vec := range file.Vectors {
		hits = append(hits, Hit{
			ChunkID: i,
			Score:   cosineSimilarity(query, vec),
			Vector:  vec,
		})
	}
	// Stable sort so floating-point ties keep insertion order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *FlatIndex) Count(_ context.Context, name string) (int, error) {
	file, err := f.load(name)
	if err != nil {
		return 0, err
	}
	return len(file.Vectors), nil
}

func (f *FlatIndex) Drop(_ context.Context, name string) error {
	err := os.Remove(f.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
