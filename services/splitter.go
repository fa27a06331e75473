package services

import (
	"fmt"

	"kbrag/models"
)

// SplitDocuments splits each text unit into fixed-size windows of chunkSize
// characters (runes), adjacent windows sharing exactly chunkOverlap
// characters. Parent metadata (source, type, page) is preserved on every
// derived chunk; chunk ids are assigned by position over the full output
// sequence, not per file, so any rebuild re-ids the whole population.
func SplitDocuments(units []models.Chunk, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidParameter, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk_overlap must satisfy 0 <= overlap < chunk_size, got %d", ErrInvalidParameter, chunkOverlap)
	}

	step := chunkSize - chunkOverlap
	var chunks []models.Chunk
	for _, unit := range units {
		runes := []rune(unit.PageContent)
		if len(runes) == 0 {
			continue
		}
		for start := 0; ; start += step {
			end := start + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, models.Chunk{
				PageContent: string(runes[start:end]),
				Metadata: models.ChunkMetadata{
					Source: unit.Metadata.Source,
					Type:   unit.Metadata.Type,
					Page:   unit.Metadata.Page,
				},
			})
			if end == len(runes) {
				break
			}
		}
	}

	for i := range chunks {
		chunks[i].Metadata.ChunkID = i
	}
	return chunks, nil
}
