package authflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// statePayload is the signed content of a state token.
type statePayload struct {
	Tenant    string `json:"tenant"`
	SiteID    string `json:"site_id"`
	ReturnURL string `json:"return_url"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// buildStateToken packs a payload into `base64url(json).hexmac` form. The MAC
// covers the encoded half, keyed with the process-wide state secret.
func buildStateToken(secret []byte, payload statePayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding state payload: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)
	return encoded + "." + signState(secret, encoded), nil
}

// signState computes the hex HMAC-SHA256 of the encoded payload.
func signState(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}

// parseStateToken verifies the MAC (constant time) and the embedded
// timestamp against ttl, returning the payload. Cryptographic failure and
// staleness are both ErrInvalidState; they indicate tampering or replay, not
// a transient fault, and must never be retried.
func parseStateToken(secret []byte, token string, ttl time.Duration, now time.Time) (*statePayload, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidState)
	}

	expected := signState(secret, encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidState)
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable payload", ErrInvalidState)
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid payload", ErrInvalidState)
	}

	issued := time.Unix(payload.Timestamp, 0)
	if now.Sub(issued) > ttl {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidState)
	}
	return &payload, nil
}
