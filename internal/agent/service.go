package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/memory"
)

const memorySaveTimeout = 2 * time.Second

// Service is the explicitly constructed agent handle shared across sessions.
// It is initialized once at process start and passed by reference; it holds
// no per-session mutable state, so concurrent sessions only interact through
// the isolation-keyed memory store.
type Service struct {
	adapter      Adapter
	store        memory.Store
	contextLimit int
}

func NewService(adapter Adapter, store memory.Store, contextLimit int) *Service {
	if contextLimit <= 0 {
		contextLimit = 8
	}
	return &Service{adapter: adapter, store: store, contextLimit: contextLimit}
}

// Stream invokes the agent in streaming mode for one utterance. Memory
// context is loaded and the turn pair is persisted under the caller's
// isolation key.
func (s *Service) Stream(ctx context.Context, id identity.Identity, inputText string, onFragment FragmentHandler) error {
	req := s.buildRequest(ctx, id, inputText)

	var full strings.Builder
	err := s.adapter.Stream(ctx, req, func(frag Fragment) error {
		if frag.Kind == FragmentText {
			full.WriteString(frag.Text)
		}
		if onFragment == nil {
			return nil
		}
		return onFragment(frag)
	})
	if err != nil {
		return err
	}

	s.saveTurnPair(id, inputText, full.String())
	return nil
}

// Invoke performs one blocking agent call for the same isolation key.
func (s *Service) Invoke(ctx context.Context, id identity.Identity, inputText string) (string, error) {
	req := s.buildRequest(ctx, id, inputText)
	resp, err := s.adapter.Invoke(ctx, req)
	if err != nil {
		return "", fmt.Errorf("agent invoke: %w", err)
	}
	s.saveTurnPair(id, inputText, resp.Text)
	return resp.Text, nil
}

func (s *Service) buildRequest(ctx context.Context, id identity.Identity, inputText string) Request {
	req := Request{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		InputText: inputText,
	}
	if s.store == nil {
		return req
	}

	records, err := s.store.RecentContext(ctx, id.UserID, id.SessionID, s.contextLimit)
	if err != nil {
		// Memory is additive context; a failed read must not block the turn.
		return req
	}
	for _, r := range records {
		req.MemoryContext = append(req.MemoryContext, fmt.Sprintf("%s: %s", r.Role, r.Content))
	}
	return req
}

func (s *Service) saveTurnPair(id identity.Identity, inputText, responseText string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), memorySaveTimeout)
	defer cancel()

	_ = s.store.SaveTurn(ctx, memory.TurnRecord{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		Role:      "user",
		Content:   inputText,
	})
	if strings.TrimSpace(responseText) != "" {
		_ = s.store.SaveTurn(ctx, memory.TurnRecord{
			UserID:    id.UserID,
			SessionID: id.SessionID,
			Role:      "assistant",
			Content:   responseText,
		})
	}
}
