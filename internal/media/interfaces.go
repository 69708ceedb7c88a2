package media

import (
	"context"
	"time"
)

// The media engine owns VAD and turn-completion inference; this package only
// defines the contract its outputs arrive on.

// TurnSignalType distinguishes speech start from confirmed end-of-turn.
type TurnSignalType string

const (
	TurnSpeechStarted TurnSignalType = "speech_started"
	TurnSpeechStopped TurnSignalType = "speech_stopped"
)

// TurnSignal is the turn-taking gate's output: start/stop events with the
// confidence and duration the underlying model attached to them.
type TurnSignal struct {
	Type       TurnSignalType
	Confidence float64
	Duration   time.Duration
}

// Utterance is one finalized unit of caller speech, delivered only after the
// voice-activity and turn-completion signals confirm end-of-speech. Order is
// assigned by the producer and preserved downstream.
type Utterance struct {
	Text       string
	Confidence float64
	Order      int
}

// SpeechEventType tags events on an STT session stream.
type SpeechEventType string

const (
	SpeechEventUtterance SpeechEventType = "utterance"
	SpeechEventTurn      SpeechEventType = "turn"
	SpeechEventError     SpeechEventType = "error"
)

// SpeechEvent multiplexes finalized utterances and turn signals from the
// media engine.
type SpeechEvent struct {
	Type      SpeechEventType
	Utterance Utterance
	Turn      TurnSignal
	Detail    string
}

// STTSession accepts caller audio for one session.
type STTSession interface {
	SendAudio(ctx context.Context, pcm []byte, sampleRate int) error
	Close() error
}

// STTProvider opens per-session speech-to-text streams.
type STTProvider interface {
	StartSession(ctx context.Context, sessionID string) (STTSession, <-chan SpeechEvent, error)
}

// AudioChunk is synthesized speech ready for the outbound transport.
type AudioChunk struct {
	PCM        []byte
	Format     string
	SampleRate int
}

// TTSStream accepts response text and emits synthesized audio.
type TTSStream interface {
	SendText(ctx context.Context, text string) error
	CloseInput(ctx context.Context) error
	Events() <-chan AudioChunk
	Close() error
}

// TTSProvider opens per-session text-to-speech streams.
type TTSProvider interface {
	StartStream(ctx context.Context, sessionID string, sampleRate int) (TTSStream, error)
}
