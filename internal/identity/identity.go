package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// AnonymousUser is the sentinel user id for connections that carry none.
const AnonymousUser = "anonymous"

// Identity scopes conversation state and memory retrieval. Two sessions with
// distinct pairs must never observe each other's history.
type Identity struct {
	UserID    string
	SessionID string
}

// ConnectRequest is the optional identity payload carried by an inbound
// connection (request body or query parameters).
type ConnectRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Resolve derives the session identity from connection-establishment data.
// Pure derivation: missing user ids fall back to the anonymous sentinel and
// missing session ids are generated. Generated ids are unique with
// overwhelming probability; collisions are not checked.
func Resolve(req ConnectRequest) Identity {
	id := Identity{
		UserID:    strings.TrimSpace(req.UserID),
		SessionID: strings.TrimSpace(req.SessionID),
	}
	if id.UserID == "" {
		id.UserID = AnonymousUser
	}
	if id.SessionID == "" {
		id.SessionID = NewSessionID()
	}
	return id
}

// NewSessionID returns a fresh "sess-" prefixed random hex session id.
func NewSessionID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is in a bad state; a
		// constant id at least keeps the session traceable in logs.
		return "sess-000000000000"
	}
	return "sess-" + hex.EncodeToString(b)
}
