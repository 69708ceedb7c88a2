package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/pipeline"
	"github.com/parley-ai/parley/internal/protocol"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/internal/transport"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	greetTimeout   = 10 * time.Second
)

// handleSessionWS serves the direct browser transport, or attaches as the
// control/media channel of a previously created room session when its
// session_id is supplied.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, transport.KindWebRTC)
}

func (s *Server) handleTelephonyWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, transport.KindTelephony)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, kind transport.Kind) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	// An existing runtime means a room session created over REST; the socket
	// joins it instead of provisioning a new transport.
	if rt := s.runtime(sessionID); rt != nil {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		rt.prov.Notify(transport.Event{Type: transport.EventConnected})
		s.serveWS(r.Context(), conn, rt)
		return
	}

	id := identity.Resolve(identity.ConnectRequest{
		UserID:    r.URL.Query().Get("user_id"),
		SessionID: sessionID,
	})
	sess, err := s.sessions.Create(id, kind)
	if err != nil {
		respondError(w, http.StatusConflict, "session_exists", err.Error())
		return
	}

	conn, upgradeErr := s.upgrader.Upgrade(w, r, nil)
	if upgradeErr != nil {
		_, _ = s.sessions.End(sess.ID)
		return
	}
	defer conn.Close()

	prov, err := s.provisioner.Provision(r.Context(), kind, transport.Request{
		Conn:        conn,
		Participant: id.UserID,
	})
	if err != nil {
		_, _ = s.sessions.End(sess.ID)
		return
	}
	_ = s.sessions.AttachRelease(sess.ID, func() {
		prov.Notify(transport.Event{Type: transport.EventDisconnected})
		prov.Release()
	})
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	rt := s.startRuntime(id, kind, prov)
	prov.Notify(transport.Event{Type: transport.EventConnected})
	s.serveWS(r.Context(), conn, rt)
}

// serveWS bridges one websocket to a session runtime: inbound audio and
// control into the pipeline source and the transport event stream, pipeline
// sink frames back out as protocol messages.
func (s *Server) serveWS(ctx context.Context, conn *websocket.Conn, rt *sessionRuntime) {
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan any, 256)

	// Pump: pipeline output frames become wire messages. When the sink
	// closes the session is over and the socket should go with it.
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		defer cancel()
		var chunkSeq, audioSeq int
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-rt.events:
				s.queueOutbound(outbound, evt, string(protocol.TypeSessionEvent))
			case f, ok := <-rt.sink:
				if !ok {
					s.queueOutbound(outbound, protocol.SessionEvent{
						Type:      protocol.TypeSessionEvent,
						SessionID: rt.id.SessionID,
						Code:      protocol.CodeClosing,
					}, string(protocol.TypeSessionEvent))
					// Give the writer a moment to flush the close event.
					time.Sleep(50 * time.Millisecond)
					return
				}
				switch f.Kind {
				case pipeline.FrameUtterance:
					s.queueOutbound(outbound, protocol.UtteranceCommitted{
						Type:       protocol.TypeUtteranceCommitted,
						SessionID:  rt.id.SessionID,
						Text:       f.Text,
						Confidence: f.Utterance.Confidence,
						TSMs:       time.Now().UnixMilli(),
					}, string(protocol.TypeUtteranceCommitted))
				case pipeline.FrameResponseText:
					s.queueOutbound(outbound, protocol.ResponseChunk{
						Type:      protocol.TypeResponseChunk,
						SessionID: rt.id.SessionID,
						Seq:       chunkSeq,
						Text:      f.Text,
					}, string(protocol.TypeResponseChunk))
					chunkSeq++
				case pipeline.FrameAudioOut:
					format := f.Format
					if format == "" {
						format = "pcm16"
					}
					s.queueOutbound(outbound, protocol.AssistantAudioChunk{
						Type:        protocol.TypeAssistantAudioChunk,
						SessionID:   rt.id.SessionID,
						Seq:         audioSeq,
						Format:      format,
						AudioBase64: base64.StdEncoding.EncodeToString(f.Audio),
						SampleRate:  f.SampleRate,
					}, string(protocol.TypeAssistantAudioChunk))
					audioSeq++
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueOutbound(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: rt.id.SessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}, string(protocol.TypeErrorEvent))
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientAudioChunk:
			s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()
			pcm, decodeErr := base64.StdEncoding.DecodeString(msg.PCM16Base64)
			if decodeErr != nil {
				continue
			}
			_ = s.sessions.Touch(rt.id.SessionID)
			select {
			case <-ctx.Done():
				break readLoop
			case rt.source <- pipeline.Frame{Kind: pipeline.FrameAudioIn, Audio: pcm, SampleRate: msg.SampleRate}:
			}
		case protocol.ClientControl:
			s.metrics.WSMessages.WithLabelValues("inbound", string(msg.Type)).Inc()
			switch msg.Action {
			case protocol.ActionReady:
				rt.prov.Notify(transport.Event{Type: transport.EventReady})
				rt.greetOnce.Do(func() { go s.speakGreeting(ctx, rt) })
			case protocol.ActionDisconnect:
				break readLoop
			}
		}
	}

	rt.closeSource()
	rt.prov.Notify(transport.Event{Type: transport.EventDisconnected})
	cancel()
	<-pumpDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) queueOutbound(outbound chan<- any, msg any, msgType string) {
	select {
	case outbound <- msg:
		s.metrics.WSMessages.WithLabelValues("outbound", msgType).Inc()
	default:
		// Writes stay single-threaded; drop when the socket cannot keep up.
		s.metrics.WSMessages.WithLabelValues("outbound_dropped", msgType).Inc()
	}
}

// speakGreeting opens the conversation once the client is ready. The agent
// produces the line; a canned greeting covers agent failure so the caller
// never joins a silent room.
func (s *Server) speakGreeting(ctx context.Context, rt *sessionRuntime) {
	greetCtx, cancel := context.WithTimeout(ctx, greetTimeout)
	defer cancel()

	text := ""
	if s.agent != nil && strings.TrimSpace(s.cfg.GreetingPrompt) != "" {
		reply, err := s.agent.Invoke(greetCtx, rt.id, s.cfg.GreetingPrompt)
		if err == nil {
			text = strings.TrimSpace(reply)
		}
	}
	if text == "" {
		text = fallbackGreeting
	}
	rt.notify(protocol.SessionEvent{
		Type:      protocol.TypeSessionEvent,
		SessionID: rt.id.SessionID,
		Code:      protocol.CodeGreeting,
	})
	_ = rt.task.QueueText(greetCtx, text)
	_ = s.sessions.SetState(rt.id.SessionID, session.StateActive)
}
