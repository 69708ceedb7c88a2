package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FragmentKind tags a streamed fragment variant.
type FragmentKind string

const (
	// FragmentText carries user-facing response text.
	FragmentText FragmentKind = "text"
	// FragmentToolInvocation signals the agent is invoking a tool. The
	// payload is opaque and must never be spoken.
	FragmentToolInvocation FragmentKind = "tool_invocation"
	// FragmentStreamEnd marks the end of a response stream.
	FragmentStreamEnd FragmentKind = "stream_end"
)

// Fragment is one element of a streamed agent response.
type Fragment struct {
	Kind FragmentKind `json:"kind"`
	Text string       `json:"text,omitempty"`
}

// FragmentHandler receives streamed fragments in production order.
type FragmentHandler func(Fragment) error

// Request is the normalized request sent to the agent. UserID and SessionID
// form the isolation key scoping conversation state and memory retrieval.
type Request struct {
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	InputText     string   `json:"input_text"`
	MemoryContext []string `json:"memory_context,omitempty"`
}

// Response is the full response of a blocking invocation.
type Response struct {
	Text string `json:"text"`
}

// Adapter bridges the voice runtime with the reasoning agent.
type Adapter interface {
	// Stream yields response fragments as the agent produces them.
	Stream(ctx context.Context, req Request, onFragment FragmentHandler) error
	// Invoke performs one blocking call and returns the full response.
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPAdapter(cfg.HTTPURL), nil
		}
		return NewMockAdapter(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("agent HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported agent adapter mode %q", cfg.Mode)
	}
}
