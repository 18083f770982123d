package store

import "time"

// Status is a document's processing lifecycle state. Completed and failed
// are terminal: a document is never mutated after reaching either.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is an uploaded file's metadata record.
type Document struct {
	ID            string
	UserID        string
	ChatID        string // empty when the document is scoped to the whole user
	Filename      string
	Status        Status
	TextLength    int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Chunk is one persisted segment of a document's extracted text. The text
// is kept so a tenant's index can be rebuilt after an embedding-model
// change. Chunks are immutable and deleted only with their document.
type Chunk struct {
	ID         string
	DocumentID string
	UserID     string
	ChatID     string
	Ordinal    int
	Content    string
	Length     int
	CreatedAt  time.Time
}

// Chat is one conversation session.
type Chat struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is a message sender within a chat.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a chat. Citations lists the chunk ids injected as
// context when the assistant produced it. Immutable once written.
type Message struct {
	ID        string
	ChatID    string
	Role      Role
	Content   string
	Citations []string
	CreatedAt time.Time
}

// ProviderConfig is a user's saved generation setup. APIKeyRef names the
// credential (an environment variable) rather than holding the secret.
type ProviderConfig struct {
	UserID      string
	Provider    string
	Model       string
	APIKeyRef   string
	Temperature float64
	MaxTokens   int
	UpdatedAt   time.Time
}
