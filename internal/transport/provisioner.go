package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-ai/parley/internal/rooms"
)

var (
	ErrMissingConnection = errors.New("direct transport requires an established connection")
	ErrUnsupportedKind   = errors.New("unsupported transport kind")
)

// Request carries connection-establishment data into provisioning.
type Request struct {
	// Conn is the already-established socket for direct kinds.
	Conn *websocket.Conn
	// RoomURL/RoomToken may be supplied by the caller to reuse an
	// existing room instead of provisioning one.
	RoomURL   string
	RoomToken string
	// Participant names the caller identity minted into the room token.
	Participant string
}

// Provisioned is a releasable transport handle. Release is safe to call from
// any exit path and runs teardown exactly once.
type Provisioned struct {
	Kind        Kind
	Conn        *websocket.Conn
	Room        rooms.Room
	CallerToken string
	// OwnsRoom is set when this handle created the room and is therefore
	// responsible for deleting it.
	OwnsRoom bool

	events chan Event

	releaseOnce sync.Once
	releaseFn   func()
}

// Events is the typed lifecycle stream the session manager subscribes to.
func (p *Provisioned) Events() <-chan Event { return p.events }

// Notify publishes a lifecycle event. Publishing never blocks the transport
// I/O path; if the subscriber has fallen behind the event is dropped, which
// is safe because every event type is level-triggered by session state.
func (p *Provisioned) Notify(evt Event) {
	select {
	case p.events <- evt:
	default:
	}
}

// Release tears down whatever this handle provisioned. Idempotent: callers on
// the normal path, the error path and the expiry janitor may all invoke it.
func (p *Provisioned) Release() {
	p.releaseOnce.Do(func() {
		if p.releaseFn != nil {
			p.releaseFn()
		}
	})
}

// Provisioner adapts established connections or provisions ephemeral rooms.
type Provisioner struct {
	rooms       rooms.API
	maxDuration time.Duration
}

func NewProvisioner(roomsAPI rooms.API, maxDuration time.Duration) *Provisioner {
	if maxDuration <= 0 {
		maxDuration = 5 * time.Minute
	}
	return &Provisioner{rooms: roomsAPI, maxDuration: maxDuration}
}

// Provision returns a transport handle for the requested kind. Room creation
// failures are fatal to session start; no partial handle is returned.
func (p *Provisioner) Provision(ctx context.Context, kind Kind, req Request) (*Provisioned, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	if kind.IsDirect() {
		if req.Conn == nil {
			return nil, ErrMissingConnection
		}
		return &Provisioned{
			Kind:   kind,
			Conn:   req.Conn,
			events: make(chan Event, 16),
		}, nil
	}

	// Caller supplied an existing room/token pair: wrap it, nothing to tear down.
	if strings.TrimSpace(req.RoomURL) != "" && strings.TrimSpace(req.RoomToken) != "" {
		return &Provisioned{
			Kind:        kind,
			Room:        rooms.Room{URL: req.RoomURL},
			CallerToken: req.RoomToken,
			events:      make(chan Event, 16),
		}, nil
	}

	if p.rooms == nil {
		return nil, errors.New("room transport requested but no room service configured")
	}

	room, err := p.rooms.CreateRoom(ctx, p.maxDuration)
	if err != nil {
		return nil, fmt.Errorf("provision room: %w", err)
	}

	participant := strings.TrimSpace(req.Participant)
	if participant == "" {
		participant = "caller"
	}
	token, err := p.rooms.MintToken(room.Name, participant, p.maxDuration)
	if err != nil {
		// No partial session: a room without a caller credential is useless,
		// so tear it down before surfacing the error.
		p.rooms.DeleteRoom(ctx, room.ID)
		return nil, fmt.Errorf("mint caller token: %w", err)
	}

	roomsAPI := p.rooms
	roomID := room.ID
	return &Provisioned{
		Kind:        kind,
		Room:        room,
		CallerToken: token,
		OwnsRoom:    true,
		events:      make(chan Event, 16),
		releaseFn: func() {
			// Best-effort teardown with its own deadline; the session
			// context may already be cancelled when release runs.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			roomsAPI.DeleteRoom(ctx, roomID)
		},
	}, nil
}
