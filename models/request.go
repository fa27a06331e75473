package models

// QueryRequest asks a question against a named knowledge base. Retrieval and
// generation parameters are optional overrides of the configured defaults.
type QueryRequest struct {
	KnowledgeBase string       `json:"knowledge_base" binding:"required"`
	Query         string       `json:"query" binding:"required"`
	SearchMethod  SearchMethod `json:"search_method,omitempty"`
	TopK          int          `json:"top_k,omitempty"`
	TopN          int          `json:"top_n,omitempty"`
	LLMModel      string       `json:"llm_model,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
}

// RetrieveRequest runs the retrieval pipeline without answer generation.
type RetrieveRequest struct {
	KnowledgeBase string       `json:"knowledge_base" binding:"required"`
	Query         string       `json:"query" binding:"required"`
	SearchMethod  SearchMethod `json:"search_method,omitempty"`
	TopK          int          `json:"top_k,omitempty"`
	TopN          int          `json:"top_n,omitempty"`
}

// RemoveFilesRequest names the source files to delete from a knowledge base.
// Removal keeps surviving chunk texts as they are, so no chunking parameters
// apply.
type RemoveFilesRequest struct {
	Files []string `json:"files" binding:"required"`
}
