package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"ready"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionReady {
		t.Fatalf("Action = %q, want %q", control.Action, ActionReady)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_control","session_id":"s1","action":"reboot"}`))
	if err == nil {
		t.Fatalf("expected validation error for unknown action")
	}
}

func TestParseClientMessageRejectsInvalidAudioChunk(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_chunk","session_id":"","pcm16_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

// wireSchema pins the outbound message shapes clients depend on.
const wireSchema = `{
  "oneOf": [
    {
      "type": "object",
      "properties": {
        "type": {"const": "utterance_committed"},
        "session_id": {"type": "string", "minLength": 1},
        "text": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "ts_ms": {"type": "integer"}
      },
      "required": ["type", "session_id", "text"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "response_chunk"},
        "session_id": {"type": "string", "minLength": 1},
        "seq": {"type": "integer", "minimum": 0},
        "text": {"type": "string", "minLength": 1}
      },
      "required": ["type", "session_id", "seq", "text"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "assistant_audio_chunk"},
        "session_id": {"type": "string", "minLength": 1},
        "seq": {"type": "integer", "minimum": 0},
        "format": {"type": "string", "minLength": 1},
        "audio_base64": {"type": "string", "minLength": 1},
        "sample_rate": {"type": "integer", "enum": [8000, 16000]}
      },
      "required": ["type", "session_id", "format", "audio_base64", "sample_rate"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "session_event"},
        "session_id": {"type": "string", "minLength": 1},
        "code": {"type": "string", "enum": ["greeting", "timing_out", "closing", "interrupted"]},
        "detail": {"type": "string"}
      },
      "required": ["type", "session_id", "code"]
    },
    {
      "type": "object",
      "properties": {
        "type": {"const": "error_event"},
        "session_id": {"type": "string"},
        "code": {"type": "string", "minLength": 1},
        "source": {"type": "string"},
        "retryable": {"type": "boolean"},
        "detail": {"type": "string"}
      },
      "required": ["type", "code", "retryable"]
    }
  ]
}`

func TestOutboundMessagesMatchWireContract(t *testing.T) {
	schema, err := jsonschema.CompileString("wire.schema.json", wireSchema)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	outbound := []any{
		UtteranceCommitted{Type: TypeUtteranceCommitted, SessionID: "s1", Text: "hello", Confidence: 0.92, TSMs: 12},
		ResponseChunk{Type: TypeResponseChunk, SessionID: "s1", Seq: 0, Text: "Hi there."},
		AssistantAudioChunk{Type: TypeAssistantAudioChunk, SessionID: "s1", Seq: 1, Format: "wav", AudioBase64: "AQID", SampleRate: 16000},
		SessionEvent{Type: TypeSessionEvent, SessionID: "s1", Code: CodeTimingOut},
		ErrorEvent{Type: TypeErrorEvent, SessionID: "s1", Code: "agent_unavailable", Source: "agent", Retryable: true, Detail: "upstream 503"},
	}
	for _, msg := range outbound {
		raw, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal %T: %v", msg, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("unmarshal %T: %v", msg, err)
		}
		if err := schema.Validate(doc); err != nil {
			t.Fatalf("%T violates wire contract: %v", msg, err)
		}
	}
}

func TestWireContractRejectsBlankResponseChunk(t *testing.T) {
	schema, err := jsonschema.CompileString("wire.schema.json", wireSchema)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	raw := []byte(`{"type":"response_chunk","session_id":"s1","seq":0,"text":""}`)
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := schema.Validate(doc); err == nil {
		t.Fatalf("blank chunk accepted by wire contract")
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"client_audio_chunk","session_id":"s1","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000,"ts_ms":123456}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudioChunk); !ok {
			b.Fatalf("message type = %T, want ClientAudioChunk", msg)
		}
	}
}
