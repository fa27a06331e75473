package services

import (
	"errors"
	"strings"
	"testing"

	"kbrag/models"
)

func textUnit(source, text string) models.Chunk {
	return models.Chunk{
		PageContent: text,
		Metadata:    models.ChunkMetadata{Source: source, Type: models.SourceTypeText},
	}
}

func TestSplitDocuments_CoversFullTextWithExactOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 chars
	cases := []struct {
		size, overlap int
	}{
		{10, 0},
		{10, 3},
		{30, 10},
		{100, 0},
		{7, 6},
	}

	for _, tc := range cases {
		chunks, err := SplitDocuments([]models.Chunk{textUnit("t.txt", text)}, tc.size, tc.overlap)
		if err != nil {
			t.Fatalf("size=%d overlap=%d: unexpected error: %v", tc.size, tc.overlap, err)
		}
		if len(chunks) == 0 {
			t.Fatalf("size=%d overlap=%d: expected chunks", tc.size, tc.overlap)
		}

		// Reassembling with the overlap removed must reproduce the text.
		var sb strings.Builder
		sb.WriteString(chunks[0].PageContent)
		for i := 1; i < len(chunks); i++ {
			prev := chunks[i-1].PageContent
			cur := chunks[i].PageContent
			if len(prev) >= tc.size && cur[:min(tc.overlap, len(cur))] != prev[len(prev)-tc.overlap:][:min(tc.overlap, len(cur))] {
				t.Fatalf("size=%d overlap=%d: chunk %d does not share %d chars with its predecessor", tc.size, tc.overlap, i, tc.overlap)
			}
			sb.WriteString(cur[min(tc.overlap, len(cur)):])
		}
		if sb.String() != text {
			t.Fatalf("size=%d overlap=%d: chunks do not cover the original text", tc.size, tc.overlap)
		}
	}
}

func TestSplitDocuments_BoundaryChunkMayBeShorter(t *testing.T) {
	chunks, err := SplitDocuments([]models.Chunk{textUnit("t.txt", "abcdefghijk")}, 4, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := chunks[len(chunks)-1]
	if len(last.PageContent) > 4 {
		t.Fatalf("boundary chunk longer than chunk_size: %q", last.PageContent)
	}
}

func TestSplitDocuments_InvalidParams(t *testing.T) {
	units := []models.Chunk{textUnit("t.txt", "hello")}

	cases := []struct{ size, overlap int }{
		{0, 0},
		{-1, 0},
		{10, 10},
		{10, 11},
		{10, -1},
	}
	for _, tc := range cases {
		if _, err := SplitDocuments(units, tc.size, tc.overlap); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("size=%d overlap=%d: expected ErrInvalidParameter, got %v", tc.size, tc.overlap, err)
		}
	}
}

func TestSplitDocuments_ChunkIDsArePositionalAcrossUnits(t *testing.T) {
	units := []models.Chunk{
		textUnit("a.txt", strings.Repeat("x", 25)),
		textUnit("b.txt", strings.Repeat("y", 25)),
	}
	chunks, err := SplitDocuments(units, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if c.Metadata.ChunkID != i {
			t.Fatalf("chunk %d has id %d, want %d", i, c.Metadata.ChunkID, i)
		}
	}
	// Ids must not restart per source file.
	if chunks[3].Metadata.Source != "b.txt" || chunks[3].Metadata.ChunkID != 3 {
		t.Fatalf("expected chunk 3 from b.txt with id 3, got %+v", chunks[3].Metadata)
	}
}

func TestSplitDocuments_PreservesParentMetadata(t *testing.T) {
	unit := models.Chunk{
		PageContent: strings.Repeat("z", 30),
		Metadata:    models.ChunkMetadata{Source: "doc.pdf", Type: models.SourceTypePDF, Page: 7},
	}
	chunks, err := SplitDocuments([]models.Chunk{unit}, 10, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range chunks {
		if c.Metadata.Source != "doc.pdf" || c.Metadata.Type != models.SourceTypePDF || c.Metadata.Page != 7 {
			t.Fatalf("parent metadata not preserved: %+v", c.Metadata)
		}
	}
}

func TestSplitDocuments_SkipsEmptyUnits(t *testing.T) {
	units := []models.Chunk{
		textUnit("empty.txt", ""),
		textUnit("a.txt", "hello"),
	}
	chunks, err := SplitDocuments(units, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Metadata.Source != "a.txt" {
		t.Fatalf("expected a single chunk from a.txt, got %d chunks", len(chunks))
	}
}
