package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/reliability"
)

// Room is an ephemeral two-party voice room provisioned for one session.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// API is the consumed room-service surface.
type API interface {
	CreateRoom(ctx context.Context, ttl time.Duration) (Room, error)
	MintToken(roomName, participant string, ttl time.Duration) (string, error)
	DeleteRoom(ctx context.Context, roomID string) bool
}

// Client talks to the room service over its REST interface.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client

	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration
}

func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryAttempts: 3,
		retryBase:     200 * time.Millisecond,
		retryCap:      2 * time.Second,
	}
}

type createRoomRequest struct {
	MaxParticipants int   `json:"max_participants"`
	EnableAudio     bool  `json:"enable_audio"`
	EnableVideo     bool  `json:"enable_video"`
	EnableChat      bool  `json:"enable_chat"`
	ExpiresAtUnix   int64 `json:"exp"`
}

// CreateRoom provisions a short-lived room scoped to exactly two participants,
// voice only, expiring after ttl. Transient upstream failures are retried with
// capped exponential backoff; session creation fails only once retries are
// exhausted or the failure is not retryable.
func (c *Client) CreateRoom(ctx context.Context, ttl time.Duration) (Room, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	expiresAt := time.Now().Add(ttl).UTC()

	payload, err := json.Marshal(createRoomRequest{
		MaxParticipants: 2,
		EnableAudio:     true,
		EnableVideo:     false,
		EnableChat:      false,
		ExpiresAtUnix:   expiresAt.Unix(),
	})
	if err != nil {
		return Room{}, fmt.Errorf("marshal create room: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Room{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.retryBase, c.retryCap)):
			}
		}
		room, retryable, err := c.createRoomOnce(ctx, payload, expiresAt)
		if err == nil {
			return room, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return Room{}, err
		}
	}
	return Room{}, lastErr
}

func (c *Client) createRoomOnce(ctx context.Context, payload []byte, expiresAt time.Time) (Room, bool, error) {
	res, err := c.do(ctx, http.MethodPost, "/v1/rooms", payload)
	if err != nil {
		// Transport-level failure; retryable unless the context killed it.
		return Room{}, true, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		retryable := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return Room{}, retryable, fmt.Errorf("create room status %d: %s",
			res.StatusCode, strings.TrimSpace(string(body)))
	}

	var room Room
	if err := json.NewDecoder(res.Body).Decode(&room); err != nil {
		return Room{}, false, fmt.Errorf("decode room: %w", err)
	}
	if strings.TrimSpace(room.ID) == "" {
		return Room{}, false, fmt.Errorf("room service returned empty room id")
	}
	if room.ExpiresAt.IsZero() {
		room.ExpiresAt = expiresAt
	}
	return room, false, nil
}

// DeleteRoom tears down a provisioned room. Best-effort: failures are logged
// and reported as false, never propagated, so session shutdown cannot be
// blocked by a flaky teardown. Deleting an already-deleted room is a no-op.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) bool {
	if strings.TrimSpace(roomID) == "" {
		return true
	}

	res, err := c.do(ctx, http.MethodDelete, "/v1/rooms/"+roomID, nil)
	if err != nil {
		log.Printf("room teardown failed for %s: %v", roomID, err)
		return false
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return true
	case res.StatusCode == http.StatusNotFound:
		// Already gone; treat as success for idempotence.
		return true
	default:
		log.Printf("room teardown for %s returned status %d", roomID, res.StatusCode)
		return false
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return res, nil
}
