// Package providers defines the three capability interfaces the step
// runtime dispatches against — LLM completion, embedding generation,
// and vector search — plus a string-keyed registry ("directory") for
// each. Grounded in
// _examples/original_source/crates/llm-orchestrator-providers/src/traits.rs.
//
// The engine never discovers a provider implicitly: every adapter is
// registered by name through the engine façade's builder, then looked
// up by the name a step declares.
package providers

import "context"

// CompletionRequest is the input to an LLMProvider's Complete call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature *float32
	MaxTokens   *uint32
	Extra       map[string]interface{}
}

// CompletionResponse is the result of an LLM completion.
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed *uint32
	Metadata   map[string]interface{}
}

// LLMProvider generates text completions for a named model family.
type LLMProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Name() string
	HealthCheck(ctx context.Context) error
}

// EmbeddingRequest is the input to an EmbeddingProvider's Embed call.
// Input holds one or more texts; providers return vectors in the same
// order regardless of how they batch internally.
type EmbeddingRequest struct {
	Model      string
	Input      []string
	Dimensions *int
	Extra      map[string]interface{}
}

// EmbeddingResponse is the result of an embedding request.
type EmbeddingResponse struct {
	Embeddings [][]float32
	Model      string
	TokensUsed *uint32
	Metadata   map[string]interface{}
}

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
	Name() string
	HealthCheck(ctx context.Context) error
	// MaxBatchSize is the largest number of inputs this provider accepts
	// in one Embed call; callers split larger batches before dispatch.
	MaxBatchSize() int
}

// SearchResult is a single vector-search hit.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
	Vector   []float32
}

// VectorSearchRequest is the input to a VectorSearchProvider's Search call.
type VectorSearchRequest struct {
	Index           string
	Query           []float32
	TopK            int
	Namespace       string
	Filter          interface{}
	IncludeMetadata bool
	IncludeVectors  bool
}

// VectorSearchResponse is the result of a vector search.
type VectorSearchResponse struct {
	Results  []SearchResult
	Metadata map[string]interface{}
}

// VectorRecord is a single vector to upsert.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// UpsertRequest inserts or updates vectors in an index.
type UpsertRequest struct {
	Index     string
	Vectors   []VectorRecord
	Namespace string
}

// UpsertResponse reports how many vectors were upserted.
type UpsertResponse struct {
	UpsertedCount int
	Metadata      map[string]interface{}
}

// DeleteRequest removes vectors from an index by id, or an entire namespace.
type DeleteRequest struct {
	Index      string
	IDs        []string
	Namespace  string
	DeleteAll  bool
}

// DeleteResponse reports how many vectors were deleted.
type DeleteResponse struct {
	DeletedCount int
	Metadata     map[string]interface{}
}

// VectorSearchProvider searches, upserts, and deletes vectors in a
// named index.
type VectorSearchProvider interface {
	Search(ctx context.Context, req VectorSearchRequest) (VectorSearchResponse, error)
	Upsert(ctx context.Context, req UpsertRequest) (UpsertResponse, error)
	Delete(ctx context.Context, req DeleteRequest) (DeleteResponse, error)
	Name() string
	HealthCheck(ctx context.Context) error
}
