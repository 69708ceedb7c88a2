package transport

// Kind identifies how a caller's audio reaches the service.
type Kind string

const (
	// KindWebRTC is a direct browser connection, already established when
	// the session starts.
	KindWebRTC Kind = "webrtc"
	// KindTelephony is an already-upgraded telephony media socket.
	KindTelephony Kind = "telephony"
	// KindRoom provisions an ephemeral two-party room on an external
	// room service.
	KindRoom Kind = "room"
)

// IsDirect reports whether the transport uses an existing connection rather
// than provisioned infrastructure.
func (k Kind) IsDirect() bool {
	return k == KindWebRTC || k == KindTelephony
}

// Valid reports whether the kind is one the provisioner understands.
func (k Kind) Valid() bool {
	switch k {
	case KindWebRTC, KindTelephony, KindRoom:
		return true
	default:
		return false
	}
}

// EventType identifies transport lifecycle events.
type EventType string

const (
	// EventConnected fires when the caller's media path is established.
	EventConnected EventType = "connected"
	// EventReady fires on the client-ready handshake; room transports
	// arm their session cap on this event.
	EventReady EventType = "ready"
	// EventDisconnected fires once when the caller goes away.
	EventDisconnected EventType = "disconnected"
)

// Event is a typed transport lifecycle notification. The lifecycle manager
// subscribes to the provisioned transport's event stream instead of
// registering callbacks, keeping suspension points explicit.
type Event struct {
	Type   EventType
	Detail string
}
