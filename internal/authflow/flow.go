// Package authflow mediates the three-legged delegated-authorization exchange
// with the identity provider and keeps access credentials fresh.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/docingest/internal/config"
	"github.com/fyrsmithlabs/docingest/internal/connections"
	"github.com/fyrsmithlabs/docingest/internal/tenant"
)

// Sentinel errors.
var (
	// ErrInvalidState covers forged, tampered, expired, and unknown state
	// tokens. Never retried.
	ErrInvalidState = errors.New("invalid authorization state")

	// ErrExchangeFailed is returned when the provider rejects the
	// authorization code.
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshFailed is returned when the provider rejects the stored
	// refresh credential.
	ErrRefreshFailed = errors.New("access token refresh failed")

	// ErrNoConnection is returned when the connection does not exist or has
	// been revoked.
	ErrNoConnection = errors.New("no active connection")
)

// expirySkew treats tokens this close to expiry as already expired so a token
// handed to a caller survives the call it was fetched for.
const expirySkew = 30 * time.Second

// UserInfo is the identity-provider profile for a connection's grant.
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ExchangeResult is the outcome of a successful code exchange.
type ExchangeResult struct {
	Connection *connections.Connection
	ReturnURL  string
}

// Flow drives state token issuance, code exchange, lazy refresh, and
// revocation. It is safe for concurrent use.
type Flow struct {
	store  *connections.Store
	cfg    config.OAuthConfig
	oauth  *oauth2.Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	// refreshLocks serializes refresh-and-store per connection so two
	// concurrent expired reads do not race duplicate refreshes.
	mu           sync.Mutex
	refreshLocks map[string]*sync.Mutex
}

// New creates a Flow. The HTTP client is used for all provider calls and may
// be overridden in tests.
func New(cfg config.OAuthConfig, store *connections.Store, logger *zap.Logger) *Flow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flow{
		store: store,
		cfg:   cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger.Named("authflow"),
		now:          time.Now,
		refreshLocks: make(map[string]*sync.Mutex),
	}
}

// httpContext routes oauth2's internal HTTP calls through our client.
func (f *Flow) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.client)
}

// BuildAuthorizationRequest generates a signed state token, persists the
// matching state row, and returns the provider authorization URL embedding
// the token.
func (f *Flow) BuildAuthorizationRequest(tenantName, siteID, returnURL, loginHint string) (redirectURL, stateToken string, err error) {
	tenantName = tenant.Normalize(tenantName)
	if err := tenant.Validate(tenantName); err != nil {
		return "", "", err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}
	nonceStr := base64.RawURLEncoding.EncodeToString(nonce)

	now := f.now()
	stateToken, err = buildStateToken([]byte(f.cfg.StateSecret.Value()), statePayload{
		Tenant:    tenantName,
		SiteID:    siteID,
		ReturnURL: returnURL,
		Nonce:     nonceStr,
		Timestamp: now.Unix(),
	})
	if err != nil {
		return "", "", err
	}

	if err := f.store.StoreState(&connections.AuthState{
		Token:     stateToken,
		Tenant:    tenantName,
		SiteID:    siteID,
		ReturnURL: returnURL,
		Nonce:     nonceStr,
		CreatedAt: now,
		ExpiresAt: now.Add(f.cfg.StateTTL.Duration()),
	}); err != nil {
		return "", "", fmt.Errorf("storing authorization state: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent select_account"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}

	f.logger.Info("built authorization request", zap.String("tenant", tenantName), zap.String("site_id", siteID))
	return f.oauth.AuthCodeURL(stateToken, opts...), stateToken, nil
}

// ValidateState checks a state token three ways: MAC signature, embedded
// timestamp against the TTL, and row existence in storage. The signature
// alone cannot detect reuse after the stored row is gone, and existence alone
// cannot detect forgery, so all three are required.
func (f *Flow) ValidateState(token string) (*connections.AuthState, error) {
	if _, err := parseStateToken([]byte(f.cfg.StateSecret.Value()), token, f.cfg.StateTTL.Duration(), f.now()); err != nil {
		return nil, err
	}
	st, err := f.store.GetState(token)
	if err != nil {
		if errors.Is(err, connections.ErrStateNotFound) {
			return nil, fmt.Errorf("%w: unknown state", ErrInvalidState)
		}
		return nil, err
	}
	return st, nil
}

// ExchangeCode validates state first (no network call on a bad token), then
// exchanges the authorization code for a refresh/access credential pair,
// fetches the provider profile, and persists a new active connection.
func (f *Flow) ExchangeCode(ctx context.Context, code, stateToken string) (*ExchangeResult, error) {
	st, err := f.ValidateState(stateToken)
	if err != nil {
		return nil, err
	}

	tok, err := f.oauth.Exchange(f.httpContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider returned no refresh token", ErrExchangeFailed)
	}

	info, err := f.fetchUserInfo(ctx, tok.AccessToken)
	if err != nil {
		f.logger.Warn("user info fetch failed", zap.String("tenant", st.Tenant), zap.Error(err))
		info = &UserInfo{}
	}

	conn, err := connections.NewConnection(
		connections.NewConnectionID(),
		st.Tenant, st.SiteID, info.Email,
		tok.RefreshToken, tok.AccessToken, tok.Expiry,
		f.cfg.Scopes,
	)
	if err != nil {
		return nil, err
	}
	if err := f.store.UpsertConnection(conn); err != nil {
		return nil, fmt.Errorf("storing connection: %w", err)
	}

	f.logger.Info("created connection",
		zap.String("connection_id", conn.ID),
		zap.String("tenant", conn.Tenant),
		zap.String("user_email", conn.UserEmail),
	)
	return &ExchangeResult{Connection: conn, ReturnURL: st.ReturnURL}, nil
}

// LiveAccessToken returns a usable access credential for the connection,
// refreshing through the provider when the cached one has expired. The
// refresh-and-store sequence is serialized per connection.
func (f *Flow) LiveAccessToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := f.getConnection(connectionID)
	if err != nil {
		return "", err
	}
	if f.tokenLive(conn) {
		return conn.AccessToken, nil
	}

	lock := f.refreshLock(connectionID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	conn, err = f.getConnection(connectionID)
	if err != nil {
		return "", err
	}
	if f.tokenLive(conn) {
		return conn.AccessToken, nil
	}

	src := f.oauth.TokenSource(f.httpContext(ctx), &oauth2.Token{RefreshToken: conn.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if err := f.store.UpdateAccessToken(connectionID, tok.AccessToken, tok.Expiry); err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}

	f.logger.Info("refreshed access token", zap.String("connection_id", connectionID))
	return tok.AccessToken, nil
}

// Revoke calls the provider revocation endpoint best-effort, then marks the
// connection revoked locally. A provider-side failure does not block local
// revocation.
func (f *Flow) Revoke(ctx context.Context, connectionID string) error {
	conn, err := f.getConnection(connectionID)
	if err != nil {
		return err
	}

	form := url.Values{"token": {conn.RefreshToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err == nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("provider revocation call failed", zap.String("connection_id", connectionID), zap.Error(err))
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				f.logger.Warn("provider revocation rejected", zap.String("connection_id", connectionID), zap.Int("status", resp.StatusCode))
			}
		}
	}

	if err := f.store.Revoke(connectionID); err != nil {
		return fmt.Errorf("revoking connection: %w", err)
	}
	f.logger.Info("revoked connection", zap.String("connection_id", connectionID))
	return nil
}

// ConnectionInfo returns profile details for an active connection without
// exposing credentials.
func (f *Flow) ConnectionInfo(connectionID string) (*connections.Connection, error) {
	conn, err := f.getConnection(connectionID)
	if err != nil {
		return nil, err
	}
	conn.RefreshToken = ""
	conn.AccessToken = ""
	return conn, nil
}

// RunStateSweeper periodically removes expired authorization states until the
// context is canceled.
func (f *Flow) RunStateSweeper(ctx context.Context) {
	interval := f.cfg.SweepInterval.Duration()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.store.SweepExpiredStates(); err != nil {
				f.logger.Warn("state sweep failed", zap.Error(err))
			}
		}
	}
}

func (f *Flow) getConnection(connectionID string) (*connections.Connection, error) {
	conn, err := f.store.GetConnection(connectionID)
	if err != nil {
		if errors.Is(err, connections.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoConnection, connectionID)
		}
		return nil, err
	}
	return conn, nil
}

func (f *Flow) tokenLive(conn *connections.Connection) bool {
	return conn.AccessToken != "" && f.now().Add(expirySkew).Before(conn.AccessExpiresAt)
}

func (f *Flow) refreshLock(connectionID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.refreshLocks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		f.refreshLocks[connectionID] = lock
	}
	return lock
}

func (f *Flow) fetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info endpoint returned %d", resp.StatusCode)
	}
	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	return &info, nil
}
