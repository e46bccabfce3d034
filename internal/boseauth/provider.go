package boseauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strefethen/bose-hub-go/internal/speaker"
)

const (
	tokenPath = "/token"

	// tokenRefreshBuffer treats a token as stale this long before it expires.
	tokenRefreshBuffer = 60 * time.Second
)

var (
	ErrNotConfigured = errors.New("auth endpoint not configured")
	ErrNoCredential  = errors.New("no credential to refresh")
)

// APIError is a non-200 answer from the token endpoint.
type APIError struct {
	HTTPStatus  int    `json:"-"`
	ErrorCode   string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint returned %d %s: %s", e.HTTPStatus, e.ErrorCode, e.Description)
	}
	return fmt.Sprintf("token endpoint returned %d %s", e.HTTPStatus, e.ErrorCode)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	PersonID     string `json:"person_id"`
}

// Provider obtains control tokens from an HTTP token endpoint.
// One Provider holds one credential; it is safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu         sync.RWMutex
	credential speaker.Credential
}

// NewProvider creates a Provider for the token endpoint rooted at baseURL.
func NewProvider(baseURL string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

// GetControlToken logs in with the user's identity and stores the credential.
func (p *Provider) GetControlToken(ctx context.Context, email, password string) (speaker.Credential, error) {
	if email == "" || password == "" {
		return speaker.Credential{}, errors.New("email and password are required")
	}

	credential, err := p.tokenRequest(ctx, tokenRequest{
		GrantType: "password",
		Email:     email,
		Password:  password,
	})
	if err != nil {
		return speaker.Credential{}, err
	}

	p.mu.Lock()
	p.credential = credential
	p.mu.Unlock()
	return credential, nil
}

// IsTokenValid reports whether the stored access token is usable right now.
func (p *Provider) IsTokenValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.credential.Expired(p.now(), tokenRefreshBuffer)
}

// RefreshToken exchanges the refresh token for a new credential.
func (p *Provider) RefreshToken(ctx context.Context) error {
	p.mu.RLock()
	existing := p.credential
	p.mu.RUnlock()

	if existing.RefreshToken == "" {
		return ErrNoCredential
	}

	refreshed, err := p.tokenRequest(ctx, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: existing.RefreshToken,
	})
	if err != nil {
		return err
	}

	// Some endpoints rotate refresh tokens, others do not.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = existing.RefreshToken
	}
	if refreshed.PersonID == "" {
		refreshed.PersonID = existing.PersonID
	}

	p.mu.Lock()
	p.credential = refreshed
	p.mu.Unlock()
	return nil
}

// AccessToken returns the current access token, valid or not.
func (p *Provider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credential.AccessToken
}

// Credential returns a copy of the stored credential.
func (p *Provider) Credential() speaker.Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.credential
}

func (p *Provider) tokenRequest(ctx context.Context, payload tokenRequest) (speaker.Credential, error) {
	if p.baseURL == "" {
		return speaker.Credential{}, ErrNotConfigured
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return speaker.Credential{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tokenPath, bytes.NewReader(encoded))
	if err != nil {
		return speaker.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return speaker.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return speaker.Credential{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.ErrorCode != "" {
			apiErr.HTTPStatus = resp.StatusCode
			return speaker.Credential{}, &apiErr
		}
		return speaker.Credential{}, fmt.Errorf("token request failed: %s", resp.Status)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return speaker.Credential{}, fmt.Errorf("parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return speaker.Credential{}, errors.New("token response has no access_token")
	}

	return speaker.Credential{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		PersonID:     tokenResp.PersonID,
		ExpiresAt:    p.expiry(tokenResp),
	}, nil
}

// expiry prefers the exp claim of a JWT access token over expires_in.
// The token is not verified here; the device does that.
func (p *Provider) expiry(tokenResp tokenResponse) time.Time {
	if exp, ok := jwtExpiry(tokenResp.AccessToken); ok {
		return exp
	}
	if tokenResp.ExpiresIn > 0 {
		return p.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
