package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/reliability"
)

// HTTPAdapter forwards requests to an agent-compatible HTTP endpoint.
// Streaming responses are consumed as SSE or NDJSON lines; each line is a
// fragment object {"kind":"text","text":"..."} or {"kind":"tool_invocation"}.
// Plain-text lines are treated as text fragments.
type HTTPAdapter struct {
	url    string
	client *http.Client

	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		retryAttempts: 2,
		retryBase:     100 * time.Millisecond,
		retryCap:      time.Second,
	}
}

func (a *HTTPAdapter) Stream(ctx context.Context, req Request, onFragment FragmentHandler) error {
	res, err := a.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return a.consumeStreaming(res.Body, onFragment)
	}

	// Non-streaming upstream: deliver the whole body as one text fragment.
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	text := extractText(body)
	if text != "" && onFragment != nil {
		if err := onFragment(Fragment{Kind: FragmentText, Text: text}); err != nil {
			return err
		}
	}
	if onFragment != nil {
		return onFragment(Fragment{Kind: FragmentStreamEnd})
	}
	return nil
}

func (a *HTTPAdapter) Invoke(ctx context.Context, req Request) (Response, error) {
	res, err := a.post(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{Text: extractText(body)}, nil
}

// post sends the request, retrying transient failures with capped backoff.
// Retries happen before any response body is consumed, so streaming callers
// never see a replayed fragment.
func (a *HTTPAdapter) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < a.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, a.retryBase, a.retryCap)):
			}
		}
		res, err := a.postOnce(ctx, payload, stream)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		var upstream *UpstreamError
		if errors.As(err, &upstream) && !upstream.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (a *HTTPAdapter) postOnce(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &UpstreamError{
			Status:    res.StatusCode,
			Detail:    strings.TrimSpace(string(body)),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}
	return res, nil
}

func (a *HTTPAdapter) consumeStreaming(body io.Reader, onFragment FragmentHandler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "" || line == "[DONE]" {
			continue
		}

		frag := Fragment{Kind: FragmentText, Text: line}
		var obj Fragment
		if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.Kind != "" {
			frag = obj
		}

		if frag.Kind == FragmentText && strings.TrimSpace(frag.Text) == "" {
			continue
		}
		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return err
			}
		}
		if frag.Kind == FragmentStreamEnd {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	if onFragment != nil {
		return onFragment(Fragment{Kind: FragmentStreamEnd})
	}
	return nil
}

func extractText(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, k := range []string{"text", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// UpstreamError reports a non-2xx agent response.
type UpstreamError struct {
	Status    int
	Detail    string
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("agent http status %d: %s", e.Status, e.Detail)
}
