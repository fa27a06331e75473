package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"kbrag/models"
)

// Normalizer turns one raw uploaded file into an ordered list of text units
// tagged with source metadata. One implementation exists per supported
// format; the registry dispatches on the file extension.
type Normalizer interface {
	Normalize(ctx context.Context, filename string, content []byte, imgModel string) ([]models.Chunk, error)
}

// NormalizerRegistry maps lower-cased file extensions (".pdf") to a
// Normalizer. Unregistered extensions fail with ErrUnsupportedFormat.
type NormalizerRegistry struct {
	byExt map[string]Normalizer
}

func NewNormalizerRegistry() *NormalizerRegistry {
	return &NormalizerRegistry{byExt: make(map[string]Normalizer)}
}

// Register binds a normalizer to one or more extensions.
func (r *NormalizerRegistry) Register(n Normalizer, exts ...string) {
	for _, ext := range exts {
		r.byExt[strings.ToLower(ext)] = n
	}
}

// Normalize dispatches filename to the registered normalizer for its
// extension.
func (r *NormalizerRegistry) Normalize(ctx context.Context, filename string, content []byte, imgModel string) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	n, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	return n.Normalize(ctx, filename, content, imgModel)
}

// DefaultNormalizerRegistry wires the built-in formats: plain text and
// markdown, PDF, and images captioned through a multimodal model.
func DefaultNormalizerRegistry(captioner *OllamaCaptioner) *NormalizerRegistry {
	r := NewNormalizerRegistry()
	r.Register(TextNormalizer{}, ".txt", ".md")
	r.Register(PDFNormalizer{}, ".pdf")
	if captioner != nil {
		r.Register(&ImageNormalizer{Captioner: captioner}, ".png", ".jpg", ".jpeg")
	}
	return r
}

// TextNormalizer handles plain text and markdown: decode, drop blank lines,
// emit a single text unit.
type TextNormalizer struct{}

func (TextNormalizer) Normalize(_ context.Context, filename string, content []byte, _ string) ([]models.Chunk, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrExtractionFailed, filename)
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return []models.Chunk{{
		PageContent: strings.Join(lines, "\n"),
		Metadata: models.ChunkMetadata{
			Source: filename,
			Type:   models.SourceTypeText,
		},
	}}, nil
}

// ImageNormalizer describes an image by asking a multimodal model for a
// caption. The model name is the img_model stored in the knowledge base's
// metadata record.
type ImageNormalizer struct {
	Captioner *OllamaCaptioner
}

func (n *ImageNormalizer) Normalize(ctx context.Context, filename string, content []byte, imgModel string) ([]models.Chunk, error) {
	caption, err := n.Captioner.Caption(ctx, content, imgModel)
	if err != nil {
		return nil, fmt.Errorf("caption %s: %w", filename, err)
	}
	if strings.TrimSpace(caption) == "" {
		return nil, fmt.Errorf("%w: empty caption for %s", ErrExtractionFailed, filename)
	}
	return []models.Chunk{{
		PageContent: strings.TrimSpace(caption),
		Metadata: models.ChunkMetadata{
			Source: filename,
			Type:   models.SourceTypeImage,
		},
	}}, nil
}
