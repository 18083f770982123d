package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/docchat/docchat/internal/extract"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/store"
)

type ctxKey int

const userIDKey ctxKey = 0

// requireUser reads the trusted X-User-ID header set by the deployment's
// auth proxy and stores it on the request context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) registerRoutes(r chi.Router) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleListDocuments)
		r.Get("/{id}", s.handleGetDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
	})

	r.Route("/api/chats", func(r chi.Router) {
		r.Post("/", s.handleCreateChat)
		r.Get("/", s.handleListChats)
		r.Get("/{id}", s.handleGetChat)
		r.Delete("/{id}", s.handleDeleteChat)
		r.Get("/{id}/messages", s.handleListMessages)
		r.Post("/{id}/messages", s.handleAsk)
	})

	r.Route("/api/config", func(r chi.Router) {
		r.Get("/", s.handleGetProviderConfig)
		r.Put("/", s.handlePutProviderConfig)
	})
}

type documentResponse struct {
	ID            string `json:"id"`
	ChatID        string `json:"chat_id,omitempty"`
	Filename      string `json:"filename"`
	Status        string `json:"status"`
	TextLength    int    `json:"text_length"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toDocumentResponse(d *store.Document) documentResponse {
	return documentResponse{
		ID:            d.ID,
		ChatID:        d.ChatID,
		Filename:      d.Filename,
		Status:        string(d.Status),
		TextLength:    d.TextLength,
		FailureReason: d.FailureReason,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload")
		return
	}

	chatID := r.FormValue("chat_id")
	doc, err := s.engine.Ingest(r.Context(), userID(r), chatID, header.Filename, data)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	// Processing continues in the background; the client polls the
	// document until it reaches a terminal status.
	writeJSON(w, http.StatusAccepted, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.Store().ListDocuments(r.Context(), userID(r), r.URL.Query().Get("chat_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = toDocumentResponse(&docs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.engine.Store().GetDocument(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteDocument(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toChatResponse(c *store.Chat) chatResponse {
	return chatResponse{
		ID:        c.ID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "New chat"
	}
	chat, err := s.engine.Store().CreateChat(r.Context(), userID(r), req.Title)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(chat))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.engine.Store().ListChats(r.Context(), userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]chatResponse, len(chats))
	for i := range chats {
		out[i] = toChatResponse(&chats[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.engine.Store().GetChat(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(chat))
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteChat(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageResponse struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Citations []string `json:"citations"`
	CreatedAt string   `json:"created_at"`
}

func toMessageResponse(m *store.Message) messageResponse {
	citations := m.Citations
	if citations == nil {
		citations = []string{}
	}
	return messageResponse{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		Citations: citations,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if _, err := s.engine.Store().GetChat(r.Context(), userID(r), chatID); err != nil {
		writeEngineError(w, err)
		return
	}
	msgs, err := s.engine.Store().RecentMessages(r.Context(), chatID, 200)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]messageResponse, len(msgs))
	for i := range msgs {
		out[i] = toMessageResponse(&msgs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type askRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := s.engine.Ask(r.Context(), userID(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

type providerConfigRequest struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKeyRef   string  `json:"api_key_ref"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type providerConfigResponse struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKeyRef   string  `json:"api_key_ref"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	UpdatedAt   string  `json:"updated_at"`
}

func (s *Server) handleGetProviderConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Store().GetProviderConfig(r.Context(), userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providerConfigResponse{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKeyRef:   cfg.APIKeyRef,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		UpdatedAt:   cfg.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handlePutProviderConfig(w http.ResponseWriter, r *http.Request) {
	var req providerConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := store.ValidateAPIKeyRef(req.Provider, req.APIKeyRef); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.engine.Store().UpsertProviderConfig(r.Context(), store.ProviderConfig{
		UserID:      userID(r),
		Provider:    req.Provider,
		Model:       req.Model,
		APIKeyRef:   req.APIKeyRef,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, extract.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, extract.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, llm.ErrAuth):
		writeError(w, http.StatusBadGateway, "model provider rejected credentials")
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, llm.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "model provider unavailable, try again")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
