package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley/internal/agent"
	"github.com/parley-ai/parley/internal/config"
	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/pipeline"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/transport"
)

// fallbackGreeting is spoken when the agent cannot produce an opening line.
const fallbackGreeting = "Hello! It's good to hear from you."

type Server struct {
	cfg         config.Config
	base        context.Context
	sessions    *session.Manager
	provisioner *transport.Provisioner
	assembler   *pipeline.Assembler
	agent       *agent.Service
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
}

// sessionRuntime is the per-session wiring between transport, pipeline and
// lifecycle. Room sessions are created by REST and joined later; direct
// sessions are created when their socket arrives.
type sessionRuntime struct {
	id   identity.Identity
	kind transport.Kind
	prov *transport.Provisioned
	task *pipeline.Task

	source chan pipeline.Frame
	sink   chan pipeline.Frame
	// events carries server-originated protocol events (timing out,
	// interruption) to whichever socket is attached.
	events chan protocol.SessionEvent

	greetOnce  sync.Once
	sourceOnce sync.Once
}

func (rt *sessionRuntime) closeSource() {
	rt.sourceOnce.Do(func() { close(rt.source) })
}

func New(base context.Context, cfg config.Config, sessions *session.Manager, provisioner *transport.Provisioner, assembler *pipeline.Assembler, agentSvc *agent.Service, metrics *observability.Metrics) *Server {
	if base == nil {
		base = context.Background()
	}
	return &Server{
		cfg:         cfg,
		base:        base,
		sessions:    sessions,
		provisioner: provisioner,
		assembler:   assembler,
		agent:       agentSvc,
		metrics:     metrics,
		runtimes:    make(map[string]*sessionRuntime),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only same-origin browser connections. Prevents
				// other sites from driving a caller's mic session if the
				// service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/session", s.handleCreateSession)
	r.Post("/v1/session/{id}/end", s.handleEndSession)
	r.Get("/v1/session/{id}", s.handleGetSession)
	r.Get("/v1/session/ws", s.handleSessionWS)
	r.Get("/v1/telephony/ws", s.handleTelephonyWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"agent_mode": s.cfg.AgentAdapterMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type createSessionResponse struct {
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	Transport       string `json:"transport"`
	RoomURL         string `json:"room_url"`
	RoomToken       string `json:"room_token"`
	MaxDurationMS   int64  `json:"max_duration_ms"`
	InactivityTTLMS int64  `json:"inactivity_ttl_ms"`
}

// handleCreateSession provisions a room-transport session: an ephemeral room
// plus a caller credential. The session starts life unjoined; the janitor
// reclaims it if the caller never shows up.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req identity.ConnectRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := identity.Resolve(req)

	sess, err := s.sessions.Create(id, transport.KindRoom)
	if errors.Is(err, session.ErrExists) {
		respondError(w, http.StatusConflict, "session_exists", "session id already in use")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_create_failed", err.Error())
		return
	}

	prov, err := s.provisioner.Provision(r.Context(), transport.KindRoom, transport.Request{
		RoomURL:     strings.TrimSpace(r.URL.Query().Get("room_url")),
		RoomToken:   strings.TrimSpace(r.URL.Query().Get("room_token")),
		Participant: id.UserID,
	})
	if err != nil {
		_, _ = s.sessions.End(sess.ID)
		s.metrics.RoomOps.WithLabelValues("provision", "error").Inc()
		respondError(w, http.StatusBadGateway, "room_unavailable", err.Error())
		return
	}
	s.metrics.RoomOps.WithLabelValues("provision", "ok").Inc()
	// Expiry must unwind the whole runtime, not just the room: wake the
	// lifecycle so the pipeline task and runtime entry are torn down with it.
	_ = s.sessions.AttachRelease(sess.ID, func() {
		prov.Notify(transport.Event{Type: transport.EventDisconnected})
		prov.Release()
	})
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	s.startRuntime(id, transport.KindRoom, prov)

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Transport:       string(transport.KindRoom),
		RoomURL:         prov.Room.URL,
		RoomToken:       prov.CallerToken,
		MaxDurationMS:   s.cfg.MaxSessionDuration.Milliseconds(),
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	if rt := s.runtime(id); rt != nil {
		// Route the end through the lifecycle so teardown happens exactly
		// once in its usual order.
		rt.prov.Notify(transport.Event{Type: transport.EventDisconnected})
		respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "state": session.StateClosing})
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

// startRuntime assembles the pipeline and starts the lifecycle for one
// session. It is the only place the three are wired together.
func (s *Server) startRuntime(id identity.Identity, kind transport.Kind, prov *transport.Provisioned) *sessionRuntime {
	rt := &sessionRuntime{
		id:     id,
		kind:   kind,
		prov:   prov,
		source: make(chan pipeline.Frame, 64),
		sink:   make(chan pipeline.Frame, 64),
		events: make(chan protocol.SessionEvent, 8),
	}
	rt.task = s.assembler.Build(s.base, pipeline.BuildRequest{
		Identity: id,
		Params:   s.paramsFor(kind),
		Source:   rt.source,
		Sink:     rt.sink,
		OnInterrupt: func() {
			_ = s.sessions.RecordInterruption(id.SessionID)
			s.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
			rt.notify(protocol.SessionEvent{
				Type:      protocol.TypeSessionEvent,
				SessionID: id.SessionID,
				Code:      protocol.CodeInterrupted,
			})
		},
	})

	lc := session.NewLifecycle(session.LifecycleConfig{
		SessionID:   id.SessionID,
		Manager:     s.sessions,
		Handle:      prov,
		Kind:        kind,
		MaxDuration: s.cfg.MaxSessionDuration,
		Grace:       s.cfg.GoodbyeGrace,
		GoodbyeText: s.cfg.GoodbyeText,
		Speak: func(ctx context.Context, text string) error {
			rt.notify(protocol.SessionEvent{
				Type:      protocol.TypeSessionEvent,
				SessionID: id.SessionID,
				Code:      protocol.CodeTimingOut,
			})
			return rt.task.QueueText(ctx, text)
		},
		CancelTask: rt.task.Cancel,
		Metrics:    s.metrics,
	})

	s.mu.Lock()
	s.runtimes[id.SessionID] = rt
	s.mu.Unlock()

	go func() {
		lc.Run(s.base)
		s.mu.Lock()
		delete(s.runtimes, id.SessionID)
		s.mu.Unlock()
	}()
	return rt
}

func (rt *sessionRuntime) notify(evt protocol.SessionEvent) {
	select {
	case rt.events <- evt:
	default:
	}
}

func (s *Server) runtime(sessionID string) *sessionRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtimes[sessionID]
}

func (s *Server) paramsFor(kind transport.Kind) pipeline.Params {
	p := pipeline.ParamsFor(kind)
	p.AllowInterruptions = s.cfg.AllowInterruptions
	p.EnableMetrics = s.cfg.EnableMetrics
	p.EnableUsageMetrics = s.cfg.EnableUsageMetrics
	if kind == transport.KindTelephony {
		if s.cfg.TelephonySampleRate > 0 {
			p.AudioInRate = s.cfg.TelephonySampleRate
			p.AudioOutRate = s.cfg.TelephonySampleRate
		}
		return p
	}
	if s.cfg.AudioInSampleRate > 0 {
		p.AudioInRate = s.cfg.AudioInSampleRate
	}
	if s.cfg.AudioOutSampleRate > 0 {
		p.AudioOutRate = s.cfg.AudioOutSampleRate
	}
	return p
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
