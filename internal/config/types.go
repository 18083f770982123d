package config

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI  ProviderType = "openai"
	ProviderGemini  ProviderType = "gemini"
	ProviderGroq    ProviderType = "groq"
	ProviderMistral ProviderType = "mistral"
	ProviderOllama  ProviderType = "ollama"
)

// Config is the top-level docchat configuration, corresponding to docchat.yml.
type Config struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string       `yaml:"embedding_model" koanf:"embedding_model"`

	DataDir string `yaml:"data_dir" koanf:"data_dir"`
	Port    int    `yaml:"port" koanf:"port"`

	Chunking  ChunkingConfig  `yaml:"chunking" koanf:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
	Retry     RetryConfig     `yaml:"retry" koanf:"retry"`

	// MaxUploadBytes caps the size of a single uploaded file.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" koanf:"max_upload_bytes"`

	// ContextBudget is the maximum prompt length (in runes) handed to a provider.
	ContextBudget int `yaml:"context_budget" koanf:"context_budget"`

	// HistoryWindow is how many prior messages are considered for the prompt.
	HistoryWindow int `yaml:"history_window" koanf:"history_window"`

	// RedisAddr enables the Redis-backed embedding cache when set.
	// Empty means the in-process cache is used.
	RedisAddr string `yaml:"redis_addr" koanf:"redis_addr"`

	// ProviderRPM limits requests per minute per LLM provider. 0 disables limiting.
	ProviderRPM int `yaml:"provider_rpm" koanf:"provider_rpm"`
}

// ChunkingConfig controls how extracted text is split before embedding.
type ChunkingConfig struct {
	Size    int `yaml:"size" koanf:"size"`
	Overlap int `yaml:"overlap" koanf:"overlap"`
}

// RetrievalConfig controls similarity search behavior.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k" koanf:"top_k"`
	MinScore float32 `yaml:"min_score" koanf:"min_score"`
}

// RetryConfig tunes the bounded backoff applied to transient provider failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" koanf:"max_attempts"`
	BackoffMS   int `yaml:"backoff_ms" koanf:"backoff_ms"`
}
