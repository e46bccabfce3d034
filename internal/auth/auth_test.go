package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateAndVerifyToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "kitchen-panel", time.Hour)
	require.NoError(t, err)

	user, err := VerifyToken(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, "kitchen-panel", user.Sub)
}

func TestGenerateTokenRequiresSecretAndSubject(t *testing.T) {
	_, err := GenerateToken("", "someone", time.Hour)
	require.ErrorIs(t, err, ErrNoSecret)

	_, err = GenerateToken(testSecret, "", time.Hour)
	require.Error(t, err)
}

func TestVerifyTokenRejects(t *testing.T) {
	expired, err := GenerateToken(testSecret, "kitchen-panel", -time.Minute)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, expired)
	require.ErrorIs(t, err, ErrTokenExpired)

	otherSecret, err := GenerateToken("fedcba9876543210fedcba9876543210", "kitchen-panel", time.Hour)
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, otherSecret)
	require.ErrorIs(t, err, ErrTokenInvalid)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "kitchen-panel",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = VerifyToken(testSecret, signed)
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = VerifyToken(testSecret, "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func protectedHandler(secret string) http.Handler {
	return Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := UserFromContext(r.Context())
		w.Header().Set("X-User", user.Sub)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail struct {
			Error string `json:"error"`
		} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body.Detail.Error
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	recorder := httptest.NewRecorder()
	protectedHandler("").ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/playback/status", nil))
	require.Equal(t, http.StatusNoContent, recorder.Code)
}

func TestMiddlewarePublicRoutes(t *testing.T) {
	handler := protectedHandler(testSecret)
	for _, path := range []string{"/health", "/health/", "/openapi", "/openapi.json"} {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNoContent, recorder.Code, path)
	}
}

func TestMiddlewareRequiresBearer(t *testing.T) {
	handler := protectedHandler(testSecret)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/playback/status", nil))
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "Unauthorized", errorCode(t, recorder))

	request := httptest.NewRequest(http.MethodGet, "/playback/status", nil)
	request.Header.Set("Authorization", "Basic abc")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	request = httptest.NewRequest(http.MethodGet, "/playback/status", nil)
	request.Header.Set("Authorization", "Bearer garbage")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "TokenInvalid", errorCode(t, recorder))
}

func TestMiddlewareExpiredToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "kitchen-panel", -time.Minute)
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodGet, "/session", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	protectedHandler(testSecret).ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "TokenExpired", errorCode(t, recorder))
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "kitchen-panel", time.Hour)
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodGet, "/session", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	protectedHandler(testSecret).ServeHTTP(recorder, request)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "kitchen-panel", recorder.Header().Get("X-User"))
}
