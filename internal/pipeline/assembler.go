package pipeline

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/internal/identity"
	"github.com/parley-ai/parley/internal/media"
	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/respond"
)

const stageBuffer = 32

// Assembler builds one stage sequence per session. It holds only shared
// process-level dependencies; everything per-session is passed to Build.
type Assembler struct {
	stt         media.STTProvider
	tts         media.TTSProvider
	coordinator *respond.Coordinator
	metrics     *observability.Metrics
}

func NewAssembler(stt media.STTProvider, tts media.TTSProvider, coordinator *respond.Coordinator, metrics *observability.Metrics) *Assembler {
	return &Assembler{stt: stt, tts: tts, coordinator: coordinator, metrics: metrics}
}

// BuildRequest is one session's construction input.
type BuildRequest struct {
	Identity identity.Identity
	Params   Params
	// Source delivers transport-in frames; the caller closes it on
	// disconnect. Sink receives transport-out frames and is closed when the
	// pipeline finishes draining.
	Source <-chan Frame
	Sink   chan<- Frame
	// OnInterrupt runs each time caller speech truncates a response.
	OnInterrupt func()
}

// Task is a running pipeline. Construction is pure assembly: the stage
// sequence is fixed at Build time and data starts flowing immediately.
type Task struct {
	cancel context.CancelFunc
	inject chan Frame
	done   chan struct{}
}

// Build assembles transport-in, telemetry, speech-to-text, response
// coordination, synthesis and transport-out into a strictly linear flow and
// starts it. The returned task is the only handle to the running pipeline.
func (a *Assembler) Build(ctx context.Context, req BuildRequest) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel: cancel,
		inject: make(chan Frame, 4),
		done:   make(chan struct{}),
	}

	var stages []Stage
	if req.Params.EnableMetrics {
		stages = append(stages, &telemetryStage{metrics: a.metrics, usage: req.Params.EnableUsageMetrics})
	}
	stages = append(stages,
		&sttStage{provider: a.stt, sessionID: req.Identity.SessionID},
		&respondStage{
			coordinator: a.coordinator,
			id:          req.Identity,
			params:      req.Params,
			onInterrupt: req.OnInterrupt,
		},
		&ttsStage{
			provider:   a.tts,
			sessionID:  req.Identity.SessionID,
			sampleRate: req.Params.AudioOutRate,
			metrics:    a.metrics,
			usage:      req.Params.EnableUsageMetrics,
		},
	)

	// Entry merge: transport frames and injected text share one inlet so
	// downstream stages see a single ordered stream.
	entry := make(chan Frame, stageBuffer)
	go func() {
		defer close(entry)
		source := req.Source
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-source:
				if !ok {
					source = nil
					continue
				}
				if !send(ctx, entry, f) {
					return
				}
			case f := <-t.inject:
				if !send(ctx, entry, f) {
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	in := (<-chan Frame)(entry)
	for i, stage := range stages {
		var out chan Frame
		if i == len(stages)-1 {
			out = nil
		} else {
			out = make(chan Frame, stageBuffer)
		}
		stageIn := in
		var stageOut chan<- Frame
		if out != nil {
			stageOut = out
		} else {
			stageOut = req.Sink
		}
		s := stage
		closable := out
		wg.Add(1)
		go func() {
			defer wg.Done()
			if closable != nil {
				defer close(closable)
			}
			_ = s.Run(ctx, stageIn, stageOut)
		}()
		if out != nil {
			in = out
		}
	}

	go func() {
		wg.Wait()
		if req.Sink != nil {
			close(req.Sink)
		}
		close(t.done)
	}()
	return t
}

// QueueText injects text into the flow as a response-text frame. Greetings
// and goodbyes enter here and are synthesized like any agent chunk.
func (t *Task) QueueText(ctx context.Context, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return context.Canceled
	case t.inject <- Frame{Kind: FrameResponseText, Text: text}:
		return nil
	}
}

// Cancel stops the pipeline. Idempotent; Done is closed once every stage has
// unwound.
func (t *Task) Cancel() { t.cancel() }

func (t *Task) Done() <-chan struct{} { return t.done }
