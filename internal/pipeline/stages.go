package pipeline

import (
	"context"
	"log"

	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/media"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/respond"
)

// Stage is one processing step in a session's linear frame flow. Run consumes
// frames from in and produces frames on out until in closes or the context is
// cancelled; it must not reorder frames it forwards.
type Stage interface {
	Name() string
	Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error
}

// send forwards a frame unless the pipeline is being torn down.
func send(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- f:
		return true
	}
}

// telemetryStage counts frames by kind without altering data flow.
type telemetryStage struct {
	metrics *observability.Metrics
	usage   bool
}

func (s *telemetryStage) Name() string { return "telemetry" }

func (s *telemetryStage) Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if s.metrics != nil {
				s.metrics.PipelineFrames.WithLabelValues(string(f.Kind)).Inc()
				if s.usage && f.Kind == FrameAudioIn {
					s.metrics.Usage.WithLabelValues("input_audio_bytes").Add(float64(len(f.Audio)))
				}
			}
			if !send(ctx, out, f) {
				return ctx.Err()
			}
		}
	}
}

// sttStage feeds caller audio to the speech-to-text session and surfaces its
// utterance and turn events as frames. Non-audio frames pass through.
type sttStage struct {
	provider  media.STTProvider
	sessionID string
}

func (s *sttStage) Name() string { return "stt" }

func (s *sttStage) Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	sess, events, err := s.provider.StartSession(ctx, s.sessionID)
	if err != nil {
		return err
	}
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if f.Kind == FrameAudioIn {
				if err := sess.SendAudio(ctx, f.Audio, f.SampleRate); err != nil {
					log.Printf("stt send audio: %v", err)
				}
				continue
			}
			if !send(ctx, out, f) {
				return ctx.Err()
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case media.SpeechEventUtterance:
				if !send(ctx, out, Frame{Kind: FrameUtterance, Text: ev.Utterance.Text, Utterance: ev.Utterance}) {
					return ctx.Err()
				}
			case media.SpeechEventTurn:
				if !send(ctx, out, Frame{Kind: FrameTurn, Turn: ev.Turn}) {
					return ctx.Err()
				}
			case media.SpeechEventError:
				log.Printf("stt session %s: %s", s.sessionID, ev.Detail)
			}
		}
	}
}

// respondStage turns finalized utterances into response-text frames via the
// coordinator. Responses run one at a time per session; utterances arriving
// while one is in flight queue in arrival order. When interruptions are
// allowed, a speech-start signal truncates the in-flight response.
type respondStage struct {
	coordinator *respond.Coordinator
	id          identity.Identity
	params      Params
	onInterrupt func()
}

func (s *respondStage) Name() string { return "respond" }

func (s *respondStage) Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	var (
		inflightCancel context.CancelFunc
		inflightDone   chan struct{}
		queue          []string
	)
	startResponse := func(utterance string) {
		respCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		inflightCancel = cancel
		inflightDone = done
		go func() {
			defer close(done)
			defer cancel()
			err := s.coordinator.Respond(respCtx, s.id, utterance, func(chunk respond.Chunk) error {
				if !send(respCtx, out, Frame{Kind: FrameResponseText, Text: chunk.Text}) {
					return respCtx.Err()
				}
				return nil
			})
			if err != nil && ctx.Err() == nil && respCtx.Err() == nil {
				log.Printf("respond %s/%s: %v", s.id.UserID, s.id.SessionID, err)
			}
		}()
	}
	drainInflight := func() {
		if inflightCancel != nil {
			inflightCancel()
			<-inflightDone
			inflightCancel = nil
			inflightDone = nil
		}
	}
	defer drainInflight()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-inflightDone:
			inflightCancel = nil
			inflightDone = nil
			if len(queue) > 0 {
				next := queue[0]
				queue = queue[1:]
				startResponse(next)
			}
		case f, ok := <-in:
			if !ok {
				return nil
			}
			switch f.Kind {
			case FrameUtterance:
				// The transcript frame continues downstream so the
				// transport can surface it to the client.
				if !send(ctx, out, f) {
					return ctx.Err()
				}
				if inflightDone != nil {
					queue = append(queue, f.Text)
					continue
				}
				startResponse(f.Text)
			case FrameTurn:
				if f.Turn.Type == media.TurnSpeechStarted && s.params.AllowInterruptions && inflightDone != nil {
					drainInflight()
					if s.onInterrupt != nil {
						s.onInterrupt()
					}
				}
			default:
				if !send(ctx, out, f) {
					return ctx.Err()
				}
			}
		}
	}
}

// ttsStage synthesizes response text and forwards the resulting audio.
type ttsStage struct {
	provider   media.TTSProvider
	sessionID  string
	sampleRate int
	metrics    *observability.Metrics
	usage      bool
}

func (s *ttsStage) Name() string { return "tts" }

func (s *ttsStage) Run(ctx context.Context, in <-chan Frame, out chan<- Frame) error {
	stream, err := s.provider.StartStream(ctx, s.sessionID, s.sampleRate)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if f.Kind == FrameResponseText {
				if s.usage && s.metrics != nil {
					s.metrics.Usage.WithLabelValues("response_chars").Add(float64(len(f.Text)))
				}
				if err := stream.SendText(ctx, f.Text); err != nil {
					log.Printf("tts send text: %v", err)
				}
				// The text frame also continues downstream so clients can
				// render the response alongside its audio.
				if !send(ctx, out, f) {
					return ctx.Err()
				}
				continue
			}
			if !send(ctx, out, f) {
				return ctx.Err()
			}
		case chunk, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if s.usage && s.metrics != nil {
				s.metrics.Usage.WithLabelValues("output_audio_bytes").Add(float64(len(chunk.PCM)))
			}
			frame := Frame{Kind: FrameAudioOut, Audio: chunk.PCM, Format: chunk.Format, SampleRate: chunk.SampleRate}
			if !send(ctx, out, frame) {
				return ctx.Err()
			}
		}
	}
}
