package rooms

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// MintToken creates a caller credential scoped to one room using HMAC-SHA256.
// The token carries a voice grant naming the room and expires with it, so a
// leaked token cannot outlive the session it was minted for.
func (c *Client) MintToken(roomName, participant string, ttl time.Duration) (string, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return "", fmt.Errorf("room api key/secret required")
	}
	if roomName == "" {
		return "", fmt.Errorf("room name required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	now := time.Now()

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	jti := hex.EncodeToString(b)

	claims := jwt.MapClaims{
		"jti":  jti,
		"iss":  c.apiKey,
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
		"sub":  participant,
		"name": participant,
		"voice": map[string]any{
			"room": roomName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
