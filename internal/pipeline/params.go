package pipeline

import "github.com/parley-ai/parley/internal/transport"

const (
	// DefaultSampleRate is the native rate for browser and room audio.
	DefaultSampleRate = 16000
	// TelephonySampleRate matches the PSTN's narrowband codecs.
	TelephonySampleRate = 8000
)

// Params is the enumerated option set supplied to the assembler. It is fixed
// at construction; a running pipeline never changes parameters.
type Params struct {
	// AllowInterruptions truncates an in-flight response when the caller
	// starts speaking over it.
	AllowInterruptions bool
	AudioInRate        int
	AudioOutRate       int
	EnableMetrics      bool
	EnableUsageMetrics bool
}

// ParamsFor returns the default parameter set for a transport kind. Telephony
// runs narrowband; everything else runs the default rate.
func ParamsFor(kind transport.Kind) Params {
	rate := DefaultSampleRate
	if kind == transport.KindTelephony {
		rate = TelephonySampleRate
	}
	return Params{
		AllowInterruptions: true,
		AudioInRate:        rate,
		AudioOutRate:       rate,
		EnableMetrics:      true,
	}
}
