package agent

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no agent backend is
// configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Stream(ctx context.Context, req Request, onFragment FragmentHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onFragment != nil {
		// Stream word by word so downstream chunk assembly is exercised.
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			if err := onFragment(Fragment{Kind: FragmentText, Text: w}); err != nil {
				return err
			}
		}
		return onFragment(Fragment{Kind: FragmentStreamEnd})
	}
	return nil
}

func (a *MockAdapter) Invoke(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}

	if len(req.MemoryContext) == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}

	last := strings.TrimSpace(req.MemoryContext[len(req.MemoryContext)-1])
	if last == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}

	return fmt.Sprintf("I heard you: %s. I also remember: %s", base, last)
}
