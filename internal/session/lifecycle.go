package session

import (
	"context"
	"strings"
	"time"

	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/transport"
)

// Handle is the subset of a provisioned transport the lifecycle drives.
// *transport.Provisioned satisfies it.
type Handle interface {
	Events() <-chan transport.Event
	Release()
}

// SpeakFunc injects synthesized speech into the session's pipeline. It
// returns once the text has been queued for synthesis.
type SpeakFunc func(ctx context.Context, text string) error

// LifecycleConfig wires one session's runtime together.
type LifecycleConfig struct {
	SessionID   string
	Manager     *Manager
	Handle      Handle
	Kind        transport.Kind
	MaxDuration time.Duration
	Grace       time.Duration
	GoodbyeText string
	Speak       SpeakFunc
	// CancelTask stops the session's pipeline task. Called exactly once on
	// every exit path.
	CancelTask context.CancelFunc
	Metrics    *observability.Metrics
}

// Lifecycle runs one session's state machine. A single goroutine owns all
// transitions, so a timeout firing concurrently with a disconnect can never
// produce two goodbyes or two teardowns.
type Lifecycle struct {
	cfg LifecycleConfig
}

func NewLifecycle(cfg LifecycleConfig) *Lifecycle {
	return &Lifecycle{cfg: cfg}
}

// Run blocks until the session ends. Teardown (pipeline cancel, transport
// release, registry close) happens on every exit path before Run returns.
func (l *Lifecycle) Run(ctx context.Context) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ActiveSessions.Inc()
		l.cfg.Metrics.SessionEvents.WithLabelValues("started").Inc()
	}
	defer l.shutdown()

	l.setState(StateConnecting)

	// The timeout channel stays nil until the session cap is armed, which
	// for room transports happens when the caller actually joins. Direct
	// transports are bounded by their connection and never arm it.
	var timer *time.Timer
	var timeout <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-l.cfg.Handle.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case transport.EventConnected:
				l.setState(StateActive)
				l.touch()
			case transport.EventReady:
				l.setState(StateActive)
				l.touch()
				if !l.cfg.Kind.IsDirect() && timer == nil && l.cfg.MaxDuration > 0 {
					timer = time.NewTimer(l.cfg.MaxDuration)
					timeout = timer.C
				}
			case transport.EventDisconnected:
				l.setState(StateClosing)
				return
			}
		case <-timeout:
			timeout = nil
			l.setState(StateTimingOut)
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.SessionEvents.WithLabelValues("timed_out").Inc()
			}
			l.sayGoodbye(ctx)
			l.setState(StateClosing)
			return
		}
	}
}

// sayGoodbye speaks the farewell line and then holds the session open for the
// remainder of the grace period so the audio can reach the caller. A
// disconnect during the grace cuts it short.
func (l *Lifecycle) sayGoodbye(ctx context.Context) {
	if l.cfg.Speak == nil || strings.TrimSpace(l.cfg.GoodbyeText) == "" {
		return
	}
	grace := l.cfg.Grace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := l.cfg.Speak(graceCtx, l.cfg.GoodbyeText); err != nil {
		return
	}
	for {
		select {
		case <-graceCtx.Done():
			return
		case evt, ok := <-l.cfg.Handle.Events():
			if !ok || evt.Type == transport.EventDisconnected {
				return
			}
		}
	}
}

func (l *Lifecycle) shutdown() {
	if l.cfg.CancelTask != nil {
		l.cfg.CancelTask()
	}
	l.cfg.Handle.Release()
	if l.cfg.Manager != nil {
		_, _ = l.cfg.Manager.End(l.cfg.SessionID)
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ActiveSessions.Dec()
		l.cfg.Metrics.SessionEvents.WithLabelValues("closed").Inc()
	}
}

func (l *Lifecycle) setState(state State) {
	if l.cfg.Manager == nil {
		return
	}
	_ = l.cfg.Manager.SetState(l.cfg.SessionID, state)
}

func (l *Lifecycle) touch() {
	if l.cfg.Manager == nil {
		return
	}
	_ = l.cfg.Manager.Touch(l.cfg.SessionID)
}
