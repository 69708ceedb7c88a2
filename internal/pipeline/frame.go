package pipeline

import "github.com/parley-ai/parley/internal/media"

// FrameKind tags what a frame carries. Frames flow strictly downstream;
// every stage forwards kinds it does not handle.
type FrameKind string

const (
	// FrameAudioIn is raw caller audio from the transport.
	FrameAudioIn FrameKind = "audio_in"
	// FrameTurn carries a turn-taking signal (speech started/stopped).
	FrameTurn FrameKind = "turn"
	// FrameUtterance is one finalized unit of caller speech.
	FrameUtterance FrameKind = "utterance"
	// FrameResponseText is agent text ready for synthesis. Injected
	// greetings and goodbyes also enter the flow as this kind.
	FrameResponseText FrameKind = "response_text"
	// FrameAudioOut is synthesized speech bound for the transport.
	FrameAudioOut FrameKind = "audio_out"
)

// Frame is the unit of data moving through a session's stage sequence.
type Frame struct {
	Kind       FrameKind
	Audio      []byte
	Format     string
	SampleRate int
	Text       string
	Turn       media.TurnSignal
	Utterance  media.Utterance
}
