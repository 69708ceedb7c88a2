package respond

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/agent"
	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/observability"
)

// ApologyText is spoken when both the streaming call and the blocking
// fallback fail. Recoverable failures must never leave the caller in silence.
const ApologyText = "I'm experiencing technical difficulties. Please try again."

// maxChunkLen caps how long the assembly buffer may grow without a clause
// boundary before it is flushed, bounding time-to-first-audible-word.
const maxChunkLen = 50

// chunkBoundaries are the clause/sentence boundary characters that trigger a
// flush, grouping tokens into natural prosodic units for synthesis.
const chunkBoundaries = " .!?,\n"

// Chunk is one speech-synthesis-ready fragment of agent output. Never empty.
type Chunk struct {
	Text string
}

// EmitFunc receives chunks in production order.
type EmitFunc func(Chunk) error

// Coordinator turns an agent token stream into speech-ready chunks, falling
// back to a blocking invocation when streaming fails.
type Coordinator struct {
	agent   *agent.Service
	metrics *observability.Metrics
	// latencyBudget is the first-chunk latency target; responses that miss
	// it are counted. Zero disables the check.
	latencyBudget time.Duration
}

func NewCoordinator(svc *agent.Service, metrics *observability.Metrics, latencyBudget time.Duration) *Coordinator {
	return &Coordinator{agent: svc, metrics: metrics, latencyBudget: latencyBudget}
}

// Respond handles one finalized utterance. Chunks are emitted in order; the
// call returns once the response is fully emitted. Callers dispatch utterances
// single-flight per session, so responses never interleave.
func (c *Coordinator) Respond(ctx context.Context, id identity.Identity, utterance string, emit EmitFunc) error {
	started := time.Now()
	emitted := false

	wrapped := func(chunk Chunk) error {
		if !emitted {
			emitted = true
			if c.metrics != nil {
				latency := time.Since(started)
				c.metrics.ObserveFirstChunkLatency(latency)
				if c.latencyBudget > 0 && latency > c.latencyBudget {
					c.metrics.FirstChunkBudgetMiss.Inc()
				}
			}
		}
		return emit(chunk)
	}

	err := c.streamResponse(ctx, id, utterance, wrapped)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Streaming failed (possibly before any chunk): one blocking attempt.
	if c.metrics != nil {
		c.metrics.AgentFallbacks.WithLabelValues("stream").Inc()
	}
	text, invokeErr := c.agent.Invoke(ctx, id, utterance)
	if invokeErr == nil && strings.TrimSpace(text) != "" {
		return c.emitChunk(wrapped, text, "fallback")
	}
	if errors.Is(invokeErr, context.Canceled) || errors.Is(invokeErr, context.DeadlineExceeded) {
		return invokeErr
	}

	// Both paths down: apologize instead of going silent. Non-fatal.
	if c.metrics != nil {
		c.metrics.AgentFallbacks.WithLabelValues("invoke").Inc()
	}
	return c.emitChunk(wrapped, ApologyText, "apology")
}

func (c *Coordinator) streamResponse(ctx context.Context, id identity.Identity, utterance string, emit EmitFunc) error {
	var buf strings.Builder

	flush := func(source string) error {
		text := buf.String()
		buf.Reset()
		return c.emitChunk(emit, text, source)
	}

	err := c.agent.Stream(ctx, id, utterance, func(frag agent.Fragment) error {
		switch frag.Kind {
		case agent.FragmentToolInvocation:
			// Tool activity is opaque: nothing accumulated from it is
			// spoken, and text emission resumes on the next text fragment.
			return nil
		case agent.FragmentStreamEnd:
			return nil
		case agent.FragmentText:
			buf.WriteString(frag.Text)
			if endsAtBoundary(buf.String()) || buf.Len() > maxChunkLen {
				return flush("stream")
			}
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}

	// Residual tokens after the stream ends form the final chunk.
	return flush("stream")
}

// emitChunk trims and emits text, dropping blank chunks entirely.
func (c *Coordinator) emitChunk(emit EmitFunc, text, source string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if c.metrics != nil {
		c.metrics.ResponseChunks.WithLabelValues(source).Inc()
	}
	return emit(Chunk{Text: text})
}

func endsAtBoundary(s string) bool {
	if s == "" {
		return false
	}
	return strings.ContainsRune(chunkBoundaries, rune(s[len(s)-1]))
}
