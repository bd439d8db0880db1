package database

// Vector storage parameters.
const (
	// EmbeddingDim is the pgvector column dimension for probe embeddings and
	// the embedding mirror. Vectors of any other dimension (the degraded
	// cascade engine produces 4096) are stored as NULL instead.
	EmbeddingDim = 512

	// HNSWEfSearch is the pgvector search candidate pool size. Higher values
	// improve recall but slow down search.
	HNSWEfSearch = 100
)
