package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley/internal/agent"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/media"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/pipeline"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/respond"
	"github.com/parley-ai/parley/internal/rooms"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/transport"
)

type fakeRoomAPI struct {
	creates atomic.Int32
	deletes atomic.Int32
}

func (f *fakeRoomAPI) CreateRoom(ctx context.Context, ttl time.Duration) (rooms.Room, error) {
	f.creates.Add(1)
	return rooms.Room{ID: "room-1", Name: "room-1", URL: "https://rooms.test/room-1"}, nil
}

func (f *fakeRoomAPI) MintToken(roomName, participant string, ttl time.Duration) (string, error) {
	return "token-" + participant, nil
}

func (f *fakeRoomAPI) DeleteRoom(ctx context.Context, roomID string) bool {
	f.deletes.Add(1)
	return true
}

func newTestServer(t *testing.T, muts ...func(*config.Config)) (*Server, *fakeRoomAPI) {
	t.Helper()
	cfg := config.Config{
		MetricsNamespace:         fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()),
		AllowAnyOrigin:           true,
		MaxSessionDuration:       time.Minute,
		GoodbyeGrace:             50 * time.Millisecond,
		SessionInactivityTimeout: 2 * time.Minute,
		GoodbyeText:              "Goodbye for now.",
		GreetingPrompt:           "Say a short hello.",
		AgentAdapterMode:         "mock",
		AllowInterruptions:       true,
		EnableMetrics:            true,
	}
	for _, mut := range muts {
		mut(&cfg)
	}

	adapter, err := agent.NewAdapter(agent.Config{Mode: cfg.AgentAdapterMode})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	agentSvc := agent.NewService(adapter, nil, 4)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	coordinator := respond.NewCoordinator(agentSvc, metrics, cfg.FirstChunkLatencyBudget)
	mock := media.NewMockProvider()
	assembler := pipeline.NewAssembler(mock, mock, coordinator, metrics)
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	roomAPI := &fakeRoomAPI{}
	provisioner := transport.NewProvisioner(roomAPI, cfg.MaxSessionDuration)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, cfg, sessions, provisioner, assembler, agentSvc, metrics), roomAPI
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestCreateRoomSessionAndEnd(t *testing.T) {
	srv, roomAPI := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" || !strings.HasPrefix(created.SessionID, "sess-") {
		t.Fatalf("session_id = %q, want generated sess- id", created.SessionID)
	}
	if created.UserID != "user-1" {
		t.Fatalf("user_id = %q, want user-1", created.UserID)
	}
	if created.RoomURL == "" || created.RoomToken == "" {
		t.Fatalf("room credentials missing: %+v", created)
	}
	if roomAPI.creates.Load() != 1 {
		t.Fatalf("room creates = %d, want 1", roomAPI.creates.Load())
	}

	endRes, err := http.Post(ts.URL+"/v1/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	// The lifecycle processes the disconnect asynchronously; the room must
	// be deleted exactly once when it finishes.
	deadline := time.After(2 * time.Second)
	for roomAPI.deletes.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("room never deleted after end")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if roomAPI.deletes.Load() != 1 {
		t.Fatalf("room deletes = %d, want 1", roomAPI.deletes.Load())
	}
}

func TestJanitorReclaimsAbandonedRoomSession(t *testing.T) {
	srv, roomAPI := newTestServer(t, func(cfg *config.Config) {
		cfg.SessionInactivityTimeout = 50 * time.Millisecond
	})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.sessions.StartJanitor(ctx, 20*time.Millisecond)

	body := []byte(`{"user_id":"user-1","session_id":"sess-idle"}`)
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	// The caller never joins. Expiry must delete the room and unwind the
	// lifecycle, the pipeline task and the runtime entry with it.
	deadline := time.After(3 * time.Second)
	for roomAPI.deletes.Load() == 0 || srv.runtime("sess-idle") != nil {
		select {
		case <-deadline:
			t.Fatalf("abandoned session not reclaimed: deletes = %d, runtime alive = %v",
				roomAPI.deletes.Load(), srv.runtime("sess-idle") != nil)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if roomAPI.deletes.Load() != 1 {
		t.Fatalf("room deletes = %d, want 1", roomAPI.deletes.Load())
	}
	if got := srv.sessions.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestCreateSessionConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := []byte(`{"user_id":"user-1","session_id":"sess-fixed"}`)
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	dup, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("duplicate create error = %v", err)
	}
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want %d", dup.StatusCode, http.StatusConflict)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s error = %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one matches the predicate or times out.
func readUntil(t *testing.T, conn *websocket.Conn, want func(env protocol.Envelope, raw []byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read message error = %v", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid outbound message %s: %v", raw, err)
		}
		if want(env, raw) {
			return raw
		}
	}
	t.Fatalf("expected message never arrived")
	return nil
}

func TestDirectSessionGreetsAndResponds(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts, "/v1/session/ws?user_id=alice&session_id=sess-ws-1")

	ready := protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: "sess-ws-1", Action: protocol.ActionReady}
	if err := conn.WriteJSON(ready); err != nil {
		t.Fatalf("write ready error = %v", err)
	}

	// Greeting: a session event followed by at least one response chunk and
	// its synthesized audio.
	readUntil(t, conn, func(env protocol.Envelope, raw []byte) bool {
		return env.Type == protocol.TypeSessionEvent
	})
	raw := readUntil(t, conn, func(env protocol.Envelope, raw []byte) bool {
		return env.Type == protocol.TypeResponseChunk
	})
	var chunk protocol.ResponseChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		t.Fatalf("decode chunk: %v", err)
	}
	if strings.TrimSpace(chunk.Text) == "" {
		t.Fatalf("greeting chunk is blank")
	}
	readUntil(t, conn, func(env protocol.Envelope, raw []byte) bool {
		return env.Type == protocol.TypeAssistantAudioChunk
	})
}

func TestWSRejectsMalformedMessage(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts, "/v1/session/ws?user_id=bob")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}
	raw := readUntil(t, conn, func(env protocol.Envelope, raw []byte) bool {
		return env.Type == protocol.TypeErrorEvent
	})
	var evt protocol.ErrorEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if evt.Code != "invalid_client_message" {
		t.Fatalf("error code = %q, want invalid_client_message", evt.Code)
	}
}

func TestWSDisconnectEndsSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts, "/v1/session/ws?user_id=carol&session_id=sess-ws-2")
	bye := protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: "sess-ws-2", Action: protocol.ActionDisconnect}
	if err := conn.WriteJSON(bye); err != nil {
		t.Fatalf("write disconnect error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		sess, err := srv.sessions.Get("sess-ws-2")
		if err == nil && sess.State == session.StateClosed {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session never closed after disconnect")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
