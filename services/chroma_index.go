package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"kbrag/models"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/google/uuid"
)

// ChromaIndex is an alternative VectorIndex backend storing one Chroma
// collection per knowledge base. The collection lives server-side, so the
// per-knowledge-base directory keeps only documents.json, info.json and
// source_files/.
type ChromaIndex struct {
	client chromago.Client
}

func NewChromaIndex(client chromago.Client) *ChromaIndex {
	return &ChromaIndex{client: client}
}

func (c *ChromaIndex) collection(ctx context.Context, name string) (chromago.Collection, error) {
	collection, err := c.client.GetOrCreateCollection(
		ctx,
		name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("created_by", "kbrag"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get or create collection %q: %v", ErrProviderUnavailable, name, err)
	}
	return collection, nil
}

// Rebuild drops the collection and re-adds the full chunk population. Chunk
// ids are kept in metadata so search hits map back to document store
// positions.
func (c *ChromaIndex) Rebuild(ctx context.Context, name string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", ErrStorageCorrupt, len(chunks), len(vectors))
	}
	if err := c.client.DeleteCollection(ctx, name); err != nil {
		log.Printf("INDEX: delete collection %q before rebuild: %v", name, err)
	}
	collection, err := c.collection(ctx, name)
	if err != nil {
		return err
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		embedding := embeddings.NewEmbeddingFromFloat32(vectors[i])
		metadata := chromago.NewDocumentMetadata(
			chromago.NewStringAttribute("source", chunk.Metadata.Source),
			chromago.NewIntAttribute("chunk_id", int64(chunk.Metadata.ChunkID)),
		)
		docID := chromago.DocumentID(fmt.Sprintf("%s-chunk%d", uuid.New().String(), i))
		err = collection.Add(ctx,
			chromago.WithIDs(docID),
			chromago.WithTexts(chunk.PageContent),
			chromago.WithEmbeddings(embedding),
			chromago.WithMetadatas(metadata),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to add chunk %d to collection %q: %v", ErrProviderUnavailable, i, name, err)
		}
	}
	return nil
}

func (c *ChromaIndex) Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	collection, err := c.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	results, err := collection.Query(
		ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(query)),
		chromago.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query collection %q: %v", ErrProviderUnavailable, name, err)
	}

	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(metadataGroups) == 0 {
		return nil, nil
	}

	var hits []Hit
	for i, metadata := range metadataGroups[0] {
		chunkID, ok := chunkIDFromMetadata(metadata)
		if !ok {
			continue
		}
		score := 0.0
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			// Distances are ascending; fold into a descending similarity.
			score = 1.0 / (1.0 + float64(distanceGroups[0][i]))
		}
		hits = append(hits, Hit{ChunkID: chunkID, Score: score})
	}
	return hits, nil
}

func (c *ChromaIndex) Count(ctx context.Context, name string) (int, error) {
	collection, err := c.collection(ctx, name)
	if err != nil {
		return 0, err
	}
	count, err := collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count collection %q: %v", ErrProviderUnavailable, name, err)
	}
	return int(count), nil
}

func (c *ChromaIndex) Drop(ctx context.Context, name string) error {
	return c.client.DeleteCollection(ctx, name)
}

// chunkIDFromMetadata digs chunk_id out of a DocumentMetadata. The struct
// has no public accessor for arbitrary attributes, so it goes through a JSON
// round trip into a plain map.
func chunkIDFromMetadata(metadata chromago.DocumentMetadata) (int, bool) {
	if metadata == nil {
		return 0, false
	}
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return 0, false
	}
	var metaMap map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &metaMap); err != nil {
		return 0, false
	}
	id, ok := metaMap["chunk_id"].(float64)
	if !ok {
		return 0, false
	}
	return int(id), true
}
