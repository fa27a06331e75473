package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"kbrag/models"
)

// mmrLambda balances relevance against diversity in MMR selection.
const mmrLambda = 0.5

// RetrievalService turns a query and a loaded knowledge base into a ranked
// evidence set using one of four strategies. Evidence scores are
// strategy-dependent: raw similarity for basic search, rerank scores for the
// reranking strategies, 1.0 for MMR and assembled whole-source evidence.
type RetrievalService struct {
	index    VectorIndex
	embedder Embedder
	reranker RerankProvider
}

func NewRetrievalService(index VectorIndex, embedder Embedder, reranker RerankProvider) *RetrievalService {
	return &RetrievalService{index: index, embedder: embedder, reranker: reranker}
}

// Retrieve dispatches to the strategy named in settings.
func (s *RetrievalService) Retrieve(ctx context.Context, kb *LoadedKB, query string, settings models.RetrievalSettings) ([]models.EvidenceItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidParameter)
	}
	if settings.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidParameter, settings.TopK)
	}
	if settings.TopN < settings.TopK {
		settings.TopN = settings.TopK
	}

	switch settings.Method {
	case models.SearchBasic, "":
		return s.basic(ctx, kb, query, settings.TopK)
	case models.SearchMMR:
		return s.mmr(ctx, kb, query, settings.TopK, settings.TopN)
	case models.SearchReranking:
		return s.rerank(ctx, kb, query, settings.TopK, settings.TopN)
	case models.SearchCustomRAG:
		return s.wholeSource(ctx, kb, query, settings.TopK, settings.TopN)
	default:
		return nil, fmt.Errorf("%w: unknown search method %q", ErrInvalidParameter, settings.Method)
	}
}

// searchCandidates embeds the query and fetches the k nearest chunks.
func (s *RetrievalService) searchCandidates(ctx context.Context, kb *LoadedKB, query string, k int) ([]Hit, error) {
	queryVec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	hits, err := s.index.Search(ctx, kb.Name, queryVec, k)
	if err != nil {
		return nil, err
	}
	// Drop hits the document store cannot resolve; the load-time invariant
	// makes this impossible for the flat backend, but a remote index could
	// drift.
	valid := hits[:0]
	for _, h := range hits {
		if h.ChunkID >= 0 && h.ChunkID < len(kb.Docs) {
			valid = append(valid, h)
		}
	}
	return valid, nil
}

// basic is plain similarity search: top_k nearest chunks, most similar
// first, each scored with its raw similarity.
func (s *RetrievalService) basic(ctx context.Context, kb *LoadedKB, query string, topK int) ([]models.EvidenceItem, error) {
	hits, err := s.searchCandidates(ctx, kb, query, topK)
	if err != nil {
		return nil, err
	}
	evidence := make([]models.EvidenceItem, 0, len(hits))
	for _, h := range hits {
		evidence = append(evidence, models.EvidenceItem{Chunk: kb.Docs[h.ChunkID], Score: h.Score})
	}
	log.Printf("RETRIEVE: basic search returned %d chunks", len(evidence))
	return evidence, nil
}

// mmr fetches top_n candidates and selects top_k of them by maximal
// marginal relevance, trading similarity to the query against similarity to
// already-selected chunks. MMR produces no comparable relevance score, so
// evidence carries the synthetic score 1.0.
func (s *RetrievalService) mmr(ctx context.Context, kb *LoadedKB, query string, topK, topN int) ([]models.EvidenceItem, error) {
	hits, err := s.searchCandidates(ctx, kb, query, topN)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		if len(hits[i].Vector) == 0 {
			// Backend did not return stored vectors; recompute.
			v, err := s.embedder.EmbedText(ctx, kb.Docs[hits[i].ChunkID].PageContent)
			if err != nil {
				return nil, fmt.Errorf("failed to embed candidate for mmr: %w", err)
			}
			hits[i].Vector = v
		}
	}

	selected := mmrSelect(hits, topK)
	evidence := make([]models.EvidenceItem, 0, len(selected))
	for _, h := range selected {
		evidence = append(evidence, models.EvidenceItem{Chunk: kb.Docs[h.ChunkID], Score: 1.0})
	}
	log.Printf("RETRIEVE: mmr selected %d of %d candidates", len(evidence), len(hits))
	return evidence, nil
}

// mmrSelect iteratively picks the candidate maximizing
// lambda*relevance - (1-lambda)*max similarity to the already-selected set.
func mmrSelect(candidates []Hit, topK int) []Hit {
	var selected []Hit
	remaining := append([]Hit(nil), candidates...)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := -1.0
		for i, c := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := cosineSimilarity(c.Vector, sel.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := mmrLambda*c.Score - (1-mmrLambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// rerank fetches top_n candidates by similarity and re-scores them with the
// external cross-encoding reranker, keeping the top_k by rerank score.
func (s *RetrievalService) rerank(ctx context.Context, kb *LoadedKB, query string, topK, topN int) ([]models.EvidenceItem, error) {
	hits, err := s.searchCandidates(ctx, kb, query, topN)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = kb.Docs[h.ChunkID].PageContent
	}
	scores, err := s.reranker.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("reranking failed: %w", err)
	}
	if len(scores) != len(hits) {
		return nil, fmt.Errorf("%w: reranker returned %d scores for %d documents", ErrProviderError, len(scores), len(hits))
	}

	evidence := make([]models.EvidenceItem, 0, len(hits))
	for i, h := range hits {
		evidence = append(evidence, models.EvidenceItem{Chunk: kb.Docs[h.ChunkID], Score: scores[i]})
	}
	// Stable: score ties keep original retrieval order.
	sort.SliceStable(evidence, func(i, j int) bool { return evidence[i].Score > evidence[j].Score })
	if topK < len(evidence) {
		evidence = evidence[:topK]
	}
	log.Printf("RETRIEVE: reranked %d candidates down to %d", len(hits), len(evidence))
	return evidence, nil
}

// wholeSource runs the reranking strategy, then replaces the chunk-level
// evidence with one assembled document per distinct source file: every chunk
// of that file, ordered by page, concatenated. Some answers need context
// spread across a whole document rather than isolated chunks; this trades
// precision for completeness.
func (s *RetrievalService) wholeSource(ctx context.Context, kb *LoadedKB, query string, topK, topN int) ([]models.EvidenceItem, error) {
	top, err := s.rerank(ctx, kb, query, topK, topN)
	if err != nil {
		return nil, err
	}

	var sources []string
	seen := make(map[string]bool)
	for _, item := range top {
		src := item.Chunk.Metadata.Source
		if !seen[src] {
			seen[src] = true
			sources = append(sources, src)
		}
	}

	var evidence []models.EvidenceItem
	for _, src := range sources {
		var same []models.Chunk
		for _, d := range kb.Docs {
			if d.Metadata.Source == src {
				same = append(same, d)
			}
		}
		if len(same) == 0 {
			continue
		}
		// Missing page numbers sort as 0.
		sort.SliceStable(same, func(i, j int) bool { return same[i].Metadata.Page < same[j].Metadata.Page })

		texts := make([]string, len(same))
		for i, d := range same {
			texts[i] = d.PageContent
		}
		evidence = append(evidence, models.EvidenceItem{
			Chunk: models.Chunk{
				PageContent: strings.Join(texts, "\n\n"),
				Metadata: models.ChunkMetadata{
					Source: src,
					Type:   same[0].Metadata.Type,
				},
			},
			Score: 1.0,
		})
	}
	log.Printf("RETRIEVE: assembled %d whole-source documents from %d sources", len(evidence), len(sources))
	return evidence, nil
}
