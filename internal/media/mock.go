package media

import (
	"context"
	"strings"
	"sync"

	"github.com/parley-ai/parley/internal/audio"
)

// MockProvider is a local stand-in for the media engine used in tests and
// when no real engine is wired up.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, <-chan SpeechEvent, error) {
	events := make(chan SpeechEvent, 64)
	return &mockSTTSession{events: events}, events, nil
}

func (p *MockProvider) StartStream(_ context.Context, _ string, sampleRate int) (TTSStream, error) {
	return &mockTTSStream{
		events:     make(chan AudioChunk, 128),
		sampleRate: sampleRate,
	}, nil
}

type mockSTTSession struct {
	mu     sync.Mutex
	events chan SpeechEvent
	order  int
	closed bool
}

func (s *mockSTTSession) SendAudio(_ context.Context, pcm []byte, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(pcm) == 0 {
		return nil
	}
	// Every audio push is treated as one complete turn: speech start, stop,
	// then a finalized utterance, matching the engine's delivery order.
	s.events <- SpeechEvent{Type: SpeechEventTurn, Turn: TurnSignal{Type: TurnSpeechStarted, Confidence: 0.9}}
	s.events <- SpeechEvent{Type: SpeechEventTurn, Turn: TurnSignal{Type: TurnSpeechStopped, Confidence: 0.9}}
	s.events <- SpeechEvent{
		Type:      SpeechEventUtterance,
		Utterance: Utterance{Text: "simulated voice input", Confidence: 0.7, Order: s.order},
	}
	s.order++
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type mockTTSStream struct {
	mu         sync.Mutex
	events     chan AudioChunk
	sampleRate int
	closed     bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || strings.TrimSpace(text) == "" {
		return nil
	}
	// Synthesize 20ms of silence per rune so durations scale with text length.
	rate := s.sampleRate
	if rate <= 0 {
		rate = 16000
	}
	samples := len([]rune(text)) * rate / 50
	wav, err := audio.EncodeWAVPCM16LE(make([]byte, samples*2), rate)
	if err != nil {
		return err
	}
	s.events <- AudioChunk{PCM: wav, Format: "wav", SampleRate: rate}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error { return nil }

func (s *mockTTSStream) Events() <-chan AudioChunk { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
