package config

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:          ProviderOpenAI,
		Model:             "gpt-4o-mini",
		EmbeddingProvider: ProviderOpenAI,
		EmbeddingModel:    "text-embedding-3-small",
		DataDir:           ".docchat",
		Port:              8080,
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			MinScore: 0.25,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffMS:   500,
		},
		MaxUploadBytes: 10 * 1024 * 1024,
		ContextBudget:  8000,
		HistoryWindow:  10,
	}
}
