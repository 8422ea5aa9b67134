// Package auth supplies the opaque credential the connection manager
// presents during the event-channel handshake. The portal's auth
// service owns credential issuance; this package only retrieves,
// caches, and best-effort refreshes tokens.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential is returned when no credential is available and no
// refresh succeeded.
var ErrNoCredential = errors.New("auth: no credential available")

// CredentialProvider yields the token used to authenticate the chat
// connection.
type CredentialProvider interface {
	// Credential returns a token believed to be valid, or an error if
	// none can be obtained.
	Credential(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token. Useful for tests and for
// callers that manage refresh themselves.
type StaticProvider string

// Credential implements CredentialProvider.
func (p StaticProvider) Credential(ctx context.Context) (string, error) {
	if p == "" {
		return "", ErrNoCredential
	}
	return string(p), nil
}

// RefreshingProvider caches a token and performs one refresh
// round-trip against the portal auth endpoint when the cached token is
// missing or expired. The token itself is opaque; expiry is inspected
// without signature verification purely to avoid a doomed handshake.
type RefreshingProvider struct {
	mu    sync.Mutex
	token string

	refreshURL string
	client     *http.Client
	now        func() time.Time
}

// NewRefreshingProvider creates a provider seeded with token (may be
// empty) that refreshes against refreshURL.
func NewRefreshingProvider(token, refreshURL string, client *http.Client) *RefreshingProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RefreshingProvider{
		token:      token,
		refreshURL: refreshURL,
		client:     client,
		now:        time.Now,
	}
}

// Credential returns the cached token if it still looks valid,
// otherwise attempts one refresh round-trip before failing.
func (p *RefreshingProvider) Credential(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && !tokenExpired(p.token, p.now()) {
		return p.token, nil
	}

	token, err := p.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	p.token = token
	return token, nil
}

// SetToken replaces the cached token, e.g. after an out-of-band login.
func (p *RefreshingProvider) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

func (p *RefreshingProvider) refresh(ctx context.Context) (string, error) {
	if p.refreshURL == "" {
		return "", errors.New("no refresh endpoint configured")
	}

	body, err := json.Marshal(map[string]string{"token": p.token})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", errors.New("refresh response had no token")
	}
	return payload.Token, nil
}

// tokenExpired inspects the token's exp claim without verifying the
// signature. Tokens that do not parse as JWTs are treated as opaque
// and assumed valid; the server is the authority either way.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}
