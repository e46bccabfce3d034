package boseauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type tokenServer struct {
	server *httptest.Server
	status atomic.Int32

	mu       sync.Mutex
	requests []tokenRequest
	response tokenResponse
}

func (ts *tokenServer) setResponse(response tokenResponse) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.response = response
}

func (ts *tokenServer) received() []tokenRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]tokenRequest(nil), ts.requests...)
}

func newTokenServer(t *testing.T, response tokenResponse) *tokenServer {
	t.Helper()
	ts := &tokenServer{response: response}
	ts.status.Store(http.StatusOK)
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, tokenPath, r.URL.Path)

		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		ts.mu.Lock()
		ts.requests = append(ts.requests, req)
		response := ts.response
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status := int(ts.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "person-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("device-side-secret"))
	require.NoError(t, err)
	return signed
}

func TestGetControlTokenUsesJWTExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	ts := newTokenServer(t, tokenResponse{
		AccessToken:  signedToken(t, exp),
		RefreshToken: "refresh-1",
		ExpiresIn:    60,
		PersonID:     "person-1",
	})

	provider := NewProvider(ts.server.URL, time.Second)
	credential, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)

	require.True(t, credential.ExpiresAt.Equal(exp))
	require.Equal(t, "person-1", credential.PersonID)
	require.True(t, provider.IsTokenValid())
	require.Equal(t, credential.AccessToken, provider.AccessToken())

	requests := ts.received()
	require.Len(t, requests, 1)
	require.Equal(t, "password", requests[0].GrantType)
	require.Equal(t, "user@example.com", requests[0].Email)
}

func TestGetControlTokenFallsBackToExpiresIn(t *testing.T) {
	ts := newTokenServer(t, tokenResponse{AccessToken: "opaque", RefreshToken: "refresh-1", ExpiresIn: 3600})

	provider := NewProvider(ts.server.URL, time.Second)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return fixed }

	credential, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, fixed.Add(time.Hour), credential.ExpiresAt)
}

func TestGetControlTokenRejectedCredentials(t *testing.T) {
	ts := newTokenServer(t, tokenResponse{})
	ts.status.Store(http.StatusUnauthorized)

	provider := NewProvider(ts.server.URL, time.Second)
	_, err := provider.GetControlToken(context.Background(), "user@example.com", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus)
	require.Equal(t, "invalid_grant", apiErr.ErrorCode)
	require.False(t, provider.IsTokenValid())
}

func TestGetControlTokenRequiresIdentity(t *testing.T) {
	provider := NewProvider("http://127.0.0.1:1", time.Second)
	_, err := provider.GetControlToken(context.Background(), "", "secret")
	require.Error(t, err)
}

func TestGetControlTokenWithoutEndpoint(t *testing.T) {
	provider := NewProvider("", time.Second)
	_, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestIsTokenValidHonoursBuffer(t *testing.T) {
	ts := newTokenServer(t, tokenResponse{AccessToken: "opaque", RefreshToken: "refresh-1", ExpiresIn: 30})

	provider := NewProvider(ts.server.URL, time.Second)
	_, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)

	// 30s left is inside the 60s buffer.
	require.False(t, provider.IsTokenValid())
}

func TestRefreshTokenKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	ts := newTokenServer(t, tokenResponse{AccessToken: "first", RefreshToken: "refresh-1", ExpiresIn: 3600, PersonID: "person-1"})

	provider := NewProvider(ts.server.URL, time.Second)
	_, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)

	ts.setResponse(tokenResponse{AccessToken: "second", ExpiresIn: 3600})
	require.NoError(t, provider.RefreshToken(context.Background()))

	credential := provider.Credential()
	require.Equal(t, "second", credential.AccessToken)
	require.Equal(t, "refresh-1", credential.RefreshToken)
	require.Equal(t, "person-1", credential.PersonID)

	requests := ts.received()
	require.Len(t, requests, 2)
	require.Equal(t, "refresh_token", requests[1].GrantType)
	require.Equal(t, "refresh-1", requests[1].RefreshToken)
}

func TestRefreshTokenWithoutCredential(t *testing.T) {
	provider := NewProvider("http://127.0.0.1:1", time.Second)
	require.ErrorIs(t, provider.RefreshToken(context.Background()), ErrNoCredential)
}

func TestRefreshTokenFailureKeepsOldCredential(t *testing.T) {
	ts := newTokenServer(t, tokenResponse{AccessToken: "first", RefreshToken: "refresh-1", ExpiresIn: 3600})

	provider := NewProvider(ts.server.URL, time.Second)
	_, err := provider.GetControlToken(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)

	ts.status.Store(http.StatusBadRequest)
	require.Error(t, provider.RefreshToken(context.Background()))
	require.Equal(t, "first", provider.AccessToken())
}

func TestJWTExpiryIgnoresOpaqueTokens(t *testing.T) {
	_, ok := jwtExpiry("opaque-token")
	require.False(t, ok)

	_, ok = jwtExpiry("a.b.c")
	require.False(t, ok)
}
