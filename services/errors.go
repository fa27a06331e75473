package services

import "errors"

// Sentinel errors for the knowledge-base core. Callers classify with
// errors.Is; lower layers wrap these with fmt.Errorf("...: %w", ...) to
// attach context.
var (
	// ErrAlreadyExists is returned when creating a knowledge base whose
	// storage directory already exists.
	ErrAlreadyExists = errors.New("knowledge base already exists")

	// ErrNotFound is returned when operating on a missing knowledge base or
	// when its persisted artifacts are absent.
	ErrNotFound = errors.New("knowledge base not found")

	// ErrInvalidParameter covers bad chunk sizing, empty queries and other
	// caller mistakes that fail before any mutation.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnsupportedFormat is returned by the normalizer registry for file
	// extensions no normalizer claims.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrExtractionFailed marks content a normalizer recognized but could
	// not extract text from.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrProviderUnavailable marks transient network or service failure of
	// an external provider (embedding, rerank, LLM). These are retried.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderError marks a permanent provider failure such as a
	// malformed response. These propagate immediately.
	ErrProviderError = errors.New("provider error")

	// ErrStorageCorrupt is returned when persisted artifacts are present but
	// unreadable, or when the index, document store and metadata record
	// disagree on the chunk count.
	ErrStorageCorrupt = errors.New("storage corrupt")
)
