// Package connections persists delegated-authorization grants with
// credentials encrypted at rest.
package connections

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a connection.
type Status string

const (
	// StatusActive means the connection can mint access tokens.
	StatusActive Status = "active"
	// StatusRevoked is terminal. Revoked connections never satisfy token
	// requests again.
	StatusRevoked Status = "revoked"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("connection not found")
	ErrStateNotFound  = errors.New("authorization state not found")
	ErrTenantMismatch = errors.New("connection tenant is immutable")
	ErrInvalidRecord  = errors.New("invalid connection record")
)

// Connection is a stored delegated-authorization grant. Token fields hold
// plaintext only in memory; the store encrypts them before write and they are
// excluded from JSON serialization.
type Connection struct {
	ID              string    `json:"connection_id"`
	Tenant          string    `json:"tenant"`
	SiteID          string    `json:"site_id"`
	UserEmail       string    `json:"user_email"`
	RefreshToken    string    `json:"-"`
	AccessToken     string    `json:"-"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at"`
	Scopes          []string  `json:"scopes"`
}

// NewConnection builds an active connection, validating required fields.
func NewConnection(id, tenantName, siteID, userEmail, refreshToken, accessToken string, accessExpiresAt time.Time, scopes []string) (*Connection, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	if tenantName == "" {
		return nil, fmt.Errorf("%w: tenant required", ErrInvalidRecord)
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token required", ErrInvalidRecord)
	}
	now := time.Now().UTC()
	return &Connection{
		ID:              id,
		Tenant:          tenantName,
		SiteID:          siteID,
		UserEmail:       userEmail,
		RefreshToken:    refreshToken,
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
		Status:          StatusActive,
		CreatedAt:       now,
		LastUsedAt:      now,
		Scopes:          scopes,
	}, nil
}

// NewConnectionID allocates a random, unguessable connection identifier.
func NewConnectionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("connection id entropy unavailable: %v", err))
	}
	return "conn_" + base64.RawURLEncoding.EncodeToString(buf)
}

// AuthState is a short-lived row backing one authorization redirect. Keyed by
// the full signed state token.
type AuthState struct {
	Token     string    `json:"state_token"`
	Tenant    string    `json:"tenant"`
	SiteID    string    `json:"site_id"`
	ReturnURL string    `json:"return_url"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the state's TTL has elapsed.
func (s *AuthState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
