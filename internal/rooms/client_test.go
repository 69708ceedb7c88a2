package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateRoomSendsVoiceOnlyTwoParty(t *testing.T) {
	var got createRoomRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/rooms" {
			t.Errorf("request = %s %s, want POST /v1/rooms", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Room{ID: "rm-1", Name: "rm-1", URL: "https://rooms.example/rm-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	room, err := c.CreateRoom(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	if got.MaxParticipants != 2 {
		t.Fatalf("MaxParticipants = %d, want 2", got.MaxParticipants)
	}
	if got.EnableVideo || got.EnableChat {
		t.Fatalf("EnableVideo=%v EnableChat=%v, want voice only", got.EnableVideo, got.EnableChat)
	}
	if !got.EnableAudio {
		t.Fatalf("EnableAudio = false, want true")
	}
	if got.ExpiresAtUnix <= time.Now().Unix() {
		t.Fatalf("ExpiresAtUnix = %d, want future expiry", got.ExpiresAtUnix)
	}
	if room.ID != "rm-1" {
		t.Fatalf("room.ID = %q, want rm-1", room.ID)
	}
	if room.ExpiresAt.IsZero() {
		t.Fatalf("ExpiresAt zero, want filled from ttl")
	}
}

func TestCreateRoomRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Room{ID: "rm-1", Name: "rm-1", URL: "https://rooms.example/rm-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	c.retryBase = time.Millisecond
	c.retryCap = 5 * time.Millisecond

	room, err := c.CreateRoom(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v, want recovery on third attempt", err)
	}
	if room.ID != "rm-1" {
		t.Fatalf("room.ID = %q, want rm-1", room.ID)
	}
	if calls.Load() != 3 {
		t.Fatalf("upstream calls = %d, want 3", calls.Load())
	}
}

func TestCreateRoomExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	c.retryBase = time.Millisecond
	c.retryCap = 5 * time.Millisecond

	if _, err := c.CreateRoom(context.Background(), time.Minute); err == nil {
		t.Fatalf("CreateRoom() error = nil, want provisioning error")
	}
	if calls.Load() != int32(c.retryAttempts) {
		t.Fatalf("upstream calls = %d, want %d", calls.Load(), c.retryAttempts)
	}
}

func TestCreateRoomNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	c.retryBase = time.Millisecond

	if _, err := c.CreateRoom(context.Background(), time.Minute); err == nil {
		t.Fatalf("CreateRoom() error = nil, want provisioning error")
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1 for non-retryable status", calls.Load())
	}
}

func TestDeleteRoomIdempotent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	if ok := c.DeleteRoom(context.Background(), "rm-1"); !ok {
		t.Fatalf("DeleteRoom() first call = false, want true")
	}
	// Second delete hits 404; must still be treated as success.
	if ok := c.DeleteRoom(context.Background(), "rm-1"); !ok {
		t.Fatalf("DeleteRoom() second call = false, want idempotent true")
	}
}

func TestDeleteRoomFailureIsNonFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", "secret")
	// Must not panic or propagate; just report false.
	if ok := c.DeleteRoom(context.Background(), "rm-1"); ok {
		t.Fatalf("DeleteRoom() = true, want false on 500")
	}
}

func TestDeleteRoomEmptyIDNoop(t *testing.T) {
	c := NewClient("http://unreachable.invalid", "key", "secret")
	if ok := c.DeleteRoom(context.Background(), ""); !ok {
		t.Fatalf("DeleteRoom(\"\") = false, want no-op true")
	}
}
