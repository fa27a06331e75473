package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"kbrag/models"

	"github.com/joho/godotenv"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

func init() {
	// Load .env file from the current directory
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}
	if err := license.SetMeteredKey(os.Getenv("UNIDOC_LICENSE_KEY")); err != nil {
		log.Printf("WARN: Failed to set Unidoc license key: %v. PDF processing will fail.", err)
	}
}

// PDFNormalizer extracts text from a PDF one page at a time, emitting a text
// unit per non-empty page so chunk metadata keeps 1-based page numbers.
type PDFNormalizer struct{}

func (PDFNormalizer) Normalize(ctx context.Context, filename string, content []byte, _ string) ([]models.Chunk, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrExtractionFailed, filename, err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("%w: page count of %s: %v", ErrExtractionFailed, filename, err)
	}

	var units []models.Chunk
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := pdfReader.GetPage(i)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d of %s: %v", ErrExtractionFailed, i, filename, err)
		}
		ex, err := extractor.New(page)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d of %s: %v", ErrExtractionFailed, i, filename, err)
		}
		text, err := ex.ExtractText()
		if err != nil {
			return nil, fmt.Errorf("%w: page %d of %s: %v", ErrExtractionFailed, i, filename, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		units = append(units, models.Chunk{
			PageContent: text,
			Metadata: models.ChunkMetadata{
				Source: filename,
				Type:   models.SourceTypePDF,
				Page:   i,
			},
		})
	}
	return units, nil
}
