package models

import "time"

// SourceType classifies where a chunk's text came from.
type SourceType string

const (
	SourceTypeText  SourceType = "txt"
	SourceTypePDF   SourceType = "pdf"
	SourceTypeImage SourceType = "image"
)

// ChunkMetadata carries the provenance of a chunk. Source and Type are set
// by the normalizer; Page is set only for paged formats; ChunkID is assigned
// by the splitter and is positional within one rebuild's output.
type ChunkMetadata struct {
	Source  string     `json:"source"`
	Type    SourceType `json:"type"`
	Page    int        `json:"page,omitempty"`
	ChunkID int        `json:"chunk_id"`
}

// Chunk is the atomic retrieval unit: a bounded span of normalized text plus
// its metadata. Before splitting, the same shape represents a whole text unit
// produced by a normalizer (ChunkID is zero until assigned).
type Chunk struct {
	PageContent string        `json:"page_content"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// KBInfo is the descriptive metadata record of a knowledge base, persisted
// as info.json next to the index and document store.
type KBInfo struct {
	LastEdit  time.Time `json:"last_edit"`
	Files     []string  `json:"files"`
	ImgModel  string    `json:"img_model"`
	ChunkSize int       `json:"chunk_size"`
	ChunkNums int       `json:"chunk_nums"`
}

// HasFile reports whether name is already listed in the record.
func (i *KBInfo) HasFile(name string) bool {
	for _, f := range i.Files {
		if f == name {
			return true
		}
	}
	return false
}

// EvidenceItem is one retrieved chunk paired with a relevance score. The
// score scale depends on the strategy that produced it (similarity score,
// rerank score, or 1.0 for synthetic evidence) and is not comparable across
// strategies.
type EvidenceItem struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// UploadFile is a raw file handed to the manager: the original filename and
// the uploaded bytes.
type UploadFile struct {
	Name    string
	Content []byte
}

// SearchMethod selects one of the four retrieval strategies.
type SearchMethod string

const (
	SearchBasic     SearchMethod = "basic"
	SearchMMR       SearchMethod = "mmr"
	SearchReranking SearchMethod = "reranking"
	SearchCustomRAG SearchMethod = "custom_rag"
)

// RetrievalSettings is the per-request configuration threaded through the
// retrieval pipeline and answer generation. It replaces any shared mutable
// session state: callers construct it from config defaults and request
// overrides.
type RetrievalSettings struct {
	Method      SearchMethod `json:"search_method"`
	TopK        int          `json:"top_k"`
	TopN        int          `json:"top_n"`
	LLMModel    string       `json:"llm_model"`
	Temperature float64      `json:"temperature"`
	TopP        float64      `json:"top_p"`
}
