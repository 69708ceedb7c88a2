package media

import (
	"context"
	"testing"
	"time"
)

func TestMockSTTEmitsTurnThenUtterance(t *testing.T) {
	p := NewMockProvider()
	sess, events, err := p.StartSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(context.Background(), []byte{0, 1, 2}, 16000); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	want := []SpeechEventType{SpeechEventTurn, SpeechEventTurn, SpeechEventUtterance}
	for i, wantType := range want {
		select {
		case ev := <-events:
			if ev.Type != wantType {
				t.Fatalf("event[%d].Type = %v, want %v", i, ev.Type, wantType)
			}
			if wantType == SpeechEventUtterance && ev.Utterance.Text == "" {
				t.Fatalf("utterance text is empty")
			}
		case <-time.After(time.Second):
			t.Fatalf("event[%d] never arrived", i)
		}
	}
}

func TestMockSTTOrdersUtterances(t *testing.T) {
	p := NewMockProvider()
	sess, events, err := p.StartSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	defer sess.Close()

	for i := 0; i < 3; i++ {
		if err := sess.SendAudio(context.Background(), []byte{1}, 16000); err != nil {
			t.Fatalf("SendAudio() error = %v", err)
		}
	}

	order := 0
	for order < 3 {
		select {
		case ev := <-events:
			if ev.Type != SpeechEventUtterance {
				continue
			}
			if ev.Utterance.Order != order {
				t.Fatalf("Order = %d, want %d", ev.Utterance.Order, order)
			}
			order++
		case <-time.After(time.Second):
			t.Fatalf("utterance %d never arrived", order)
		}
	}
}

func TestMockTTSSynthesizesWAV(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.StartStream(context.Background(), "sess-1", 8000)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "hello there"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	select {
	case chunk := <-stream.Events():
		if chunk.Format != "wav" {
			t.Fatalf("Format = %q, want wav", chunk.Format)
		}
		if chunk.SampleRate != 8000 {
			t.Fatalf("SampleRate = %d, want 8000", chunk.SampleRate)
		}
		if len(chunk.PCM) < 44 || string(chunk.PCM[:4]) != "RIFF" {
			t.Fatalf("chunk is not a WAV container")
		}
	case <-time.After(time.Second):
		t.Fatalf("no audio chunk produced")
	}
}

func TestMockTTSSkipsBlankText(t *testing.T) {
	p := NewMockProvider()
	stream, err := p.StartStream(context.Background(), "sess-1", 16000)
	if err != nil {
		t.Fatalf("StartStream() error = %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "   "); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	select {
	case chunk := <-stream.Events():
		t.Fatalf("blank text produced audio: %d bytes", len(chunk.PCM))
	case <-time.After(50 * time.Millisecond):
	}
}
