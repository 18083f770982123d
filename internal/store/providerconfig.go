package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertProviderConfig saves a user's generation setup. The API key format
// is sanity-checked per provider before anything is written.
func (s *Store) UpsertProviderConfig(ctx context.Context, cfg ProviderConfig) error {
	if err := ValidateAPIKeyRef(cfg.Provider, cfg.APIKeyRef); err != nil {
		return err
	}

	_, err := s.ExecContext(ctx,
		`INSERT INTO provider_configs (user_id, provider, model, api_key_ref, temperature, max_tokens, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     provider = excluded.provider,
		     model = excluded.model,
		     api_key_ref = excluded.api_key_ref,
		     temperature = excluded.temperature,
		     max_tokens = excluded.max_tokens,
		     updated_at = excluded.updated_at`,
		cfg.UserID, cfg.Provider, cfg.Model, cfg.APIKeyRef, cfg.Temperature, cfg.MaxTokens, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting provider config: %w", err)
	}
	return nil
}

// GetProviderConfig returns a user's saved setup, or ErrNotFound when the
// user has never configured one (callers then use the process default).
func (s *Store) GetProviderConfig(ctx context.Context, userID string) (*ProviderConfig, error) {
	var cfg ProviderConfig
	err := s.QueryRowContext(ctx,
		`SELECT user_id, provider, model, api_key_ref, temperature, max_tokens, updated_at
		 FROM provider_configs WHERE user_id = ?`, userID,
	).Scan(&cfg.UserID, &cfg.Provider, &cfg.Model, &cfg.APIKeyRef, &cfg.Temperature, &cfg.MaxTokens, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider config: %w", err)
	}
	return &cfg, nil
}

// ValidateAPIKeyRef rejects credential references that cannot possibly be
// right for the provider. Ollama needs no key.
func ValidateAPIKeyRef(provider, ref string) error {
	switch provider {
	case "ollama":
		return nil
	case "openai":
		if ref != "" && !strings.HasPrefix(ref, "sk-") && !isEnvRef(ref) {
			return fmt.Errorf("openai API key should start with sk- or name an environment variable")
		}
	case "groq":
		if ref != "" && !strings.HasPrefix(ref, "gsk_") && !isEnvRef(ref) {
			return fmt.Errorf("groq API key should start with gsk_ or name an environment variable")
		}
	}
	if provider != "ollama" && ref == "" {
		return fmt.Errorf("provider %s requires an API key reference", provider)
	}
	return nil
}

// isEnvRef reports whether ref looks like an environment variable name
// (SCREAMING_SNAKE_CASE) rather than a literal key.
func isEnvRef(ref string) bool {
	if ref == "" {
		return false
	}
	for _, r := range ref {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
