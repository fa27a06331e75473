package models

// FileFailure records one file that could not be normalized during a
// multi-file ingest. The batch continues past it.
type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// MutationResponse reports the outcome of create/add/remove on a knowledge
// base: the resulting chunk count plus any per-file failures.
type MutationResponse struct {
	KnowledgeBase string        `json:"knowledge_base"`
	ChunkCount    int           `json:"chunk_count"`
	FailedFiles   []FileFailure `json:"failed_files,omitempty"`
}

// ListResponse enumerates the existing knowledge bases.
type ListResponse struct {
	Count          int      `json:"count"`
	KnowledgeBases []string `json:"knowledge_bases"`
}

// QueryResponse carries the generated answer, the model's extracted
// reasoning segment (empty when the model emitted none), and the evidence
// the answer was grounded on.
type QueryResponse struct {
	Answer    string         `json:"answer"`
	Reasoning string         `json:"reasoning,omitempty"`
	Evidence  []EvidenceItem `json:"evidence,omitempty"`
}

// RetrieveResponse is the bare evidence set for a retrieval-only request.
type RetrieveResponse struct {
	Count    int            `json:"count"`
	Evidence []EvidenceItem `json:"evidence"`
}
