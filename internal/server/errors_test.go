package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/rooms"
)

func TestClassify(t *testing.T) {
	tcases := []struct {
		name      string
		err       error
		status    int
		closeCode int
	}{
		{"missing token", auth.ErrMissingToken, http.StatusUnauthorized, CloseAuthenticationFailed},
		{"expired token", fmt.Errorf("validate: %w", auth.ErrExpiredToken), http.StatusUnauthorized, CloseAuthenticationFailed},
		{"not a member", rooms.ErrForbidden, http.StatusForbidden, CloseAuthorizationFailed},
		{"unknown room", rooms.ErrRoomNotFound, http.StatusNotFound, CloseRoomNotFound},
		{"unknown community", rooms.ErrCommunityNotFound, http.StatusNotFound, CloseRoomNotFound},
		{"backend down", fmt.Errorf("join: %w", broadcast.ErrBackendUnavailable), http.StatusServiceUnavailable, CloseBackendUnavailable},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, CloseInternalError},
		{
			"already classified",
			&ConnectError{StatusCode: http.StatusUnauthorized, Message: "unknown user", CloseCode: CloseAuthenticationFailed},
			http.StatusUnauthorized,
			CloseAuthenticationFailed,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ce := classify(tc.err)
			assert.Equal(t, tc.status, ce.StatusCode)
			assert.Equal(t, tc.closeCode, ce.CloseCode)
			assert.ErrorIs(t, ce, tc.err)
		})
	}
}
