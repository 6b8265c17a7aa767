package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/skillnest/realtime/internal/auth"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	app := &GoChatApp{log: zap.New(core)}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	require.Equal(t, 1, logs.FilterMessage("panic").Len())
	assert.Equal(t, "test panic", logs.All()[0].ContextMap()["error"])
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{log: zap.NewNop()}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	validator, err := auth.NewValidator(auth.ValidatorConfig{SigningKey: testKey, CookieName: testCookie})
	require.NoError(t, err)
	app := &GoChatApp{log: zap.NewNop(), validator: validator}

	tokenHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		if !ok {
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{byte('0' + userId)})
	})

	valid, err := auth.NewTokenIssuer(testKey, time.Hour, nil).Issue(7)
	require.NoError(t, err)
	expired, err := auth.NewTokenIssuer(testKey, time.Minute, func() time.Time {
		return time.Now().Add(-time.Hour)
	}).Issue(7)
	require.NoError(t, err)
	foreign, err := auth.NewTokenIssuer([]byte("another-signing-key-0123456789ab"), time.Hour, nil).Issue(7)
	require.NoError(t, err)

	tcases := []struct {
		name   string
		cookie *http.Cookie
		status int
	}{
		{"valid token", &http.Cookie{Name: testCookie, Value: valid}, http.StatusOK},
		{"missing token", nil, http.StatusUnauthorized},
		{"malformed token", &http.Cookie{Name: testCookie, Value: "invalid-token"}, http.StatusUnauthorized},
		{"expired token", &http.Cookie{Name: testCookie, Value: expired}, http.StatusUnauthorized},
		{"wrong signing key", &http.Cookie{Name: testCookie, Value: foreign}, http.StatusUnauthorized},
		{"wrong cookie name", &http.Cookie{Name: "session", Value: valid}, http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			app.authMiddleware(tokenHandler).ServeHTTP(rr, req)

			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "7", rr.Body.String())
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			}
		})
	}
}
