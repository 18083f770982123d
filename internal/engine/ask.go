package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/store"
	"github.com/docchat/docchat/internal/vectordb"
)

// turnState names the step a chat turn is in. Transitions are strictly
// forward; failed is reachable from any step.
type turnState string

const (
	stateReceived   turnState = "received"
	stateRetrieving turnState = "retrieving"
	stateComposing  turnState = "composing"
	stateGenerating turnState = "generating"
	statePersisting turnState = "persisting"
	stateDone       turnState = "done"
)

// turn tracks one question through the pipeline, mostly for log context.
type turn struct {
	chatID string
	state  turnState
}

func (t *turn) advance(next turnState) {
	t.state = next
}

func (t *turn) fail(err error) error {
	log.Printf("turn failed in chat %s at %s: %v", t.chatID, t.state, err)
	return fmt.Errorf("%s: %w", t.state, err)
}

// Ask answers a question within a chat: retrieve, compose, generate,
// persist. The returned message is the assistant's turn as stored. A
// retrieval failure degrades to generation without document context; a
// failure at generation or later aborts the turn with nothing persisted.
func (e *Engine) Ask(ctx context.Context, userID, chatID, query string) (*store.Message, error) {
	return e.ask(ctx, userID, chatID, query, nil)
}

// AskStream is Ask with fragments delivered through fn as the provider
// streams them. The turn is persisted only after the stream completes.
func (e *Engine) AskStream(ctx context.Context, userID, chatID, query string, fn llm.StreamFunc) (*store.Message, error) {
	return e.ask(ctx, userID, chatID, query, fn)
}

func (e *Engine) ask(ctx context.Context, userID, chatID, query string, fn llm.StreamFunc) (*store.Message, error) {
	t := &turn{chatID: chatID, state: stateReceived}

	if query == "" {
		return nil, t.fail(fmt.Errorf("empty query"))
	}
	chat, err := e.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, t.fail(fmt.Errorf("loading chat: %w", err))
	}

	t.advance(stateRetrieving)
	keys := []vectordb.TenantKey{tenantKey(userID, chatID)}
	if chatID != "" {
		keys = append(keys, tenantKey(userID, ""))
	}
	retrieved, err := e.retriever.RetrieveMulti(ctx, keys, query)
	if err != nil {
		// Degraded mode: answer from the model alone rather than
		// refusing the turn.
		log.Printf("retrieval failed in chat %s, continuing without context: %v", chatID, err)
		retrieved = nil
	}

	t.advance(stateComposing)
	history, err := e.store.RecentMessages(ctx, chat.ID, e.cfg.HistoryWindow)
	if err != nil {
		return nil, t.fail(fmt.Errorf("loading history: %w", err))
	}
	composed, err := e.composer.Compose(query, history, retrieved)
	if err != nil {
		return nil, t.fail(err)
	}

	t.advance(stateGenerating)
	resp, err := e.registry.GenerateStream(ctx, e.providerConfig(ctx, userID), composed.Messages, fn)
	if err != nil {
		return nil, t.fail(err)
	}

	t.advance(statePersisting)
	_, assistantMsg, err := e.store.InsertTurn(ctx,
		store.Message{ChatID: chat.ID, Role: store.RoleUser, Content: query},
		store.Message{ChatID: chat.ID, Role: store.RoleAssistant, Content: resp.Content, Citations: composed.Citations},
	)
	if err != nil {
		return nil, t.fail(fmt.Errorf("persisting turn: %w", err))
	}

	t.advance(stateDone)
	return assistantMsg, nil
}
