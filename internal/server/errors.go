package server

import (
	"errors"
	"net/http"

	"github.com/skillnest/realtime/internal/auth"
	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/rooms"
)

// Close codes in the application range, one per refusal cause.
const (
	CloseAuthenticationFailed = 4001
	CloseAuthorizationFailed  = 4003
	CloseRoomNotFound         = 4004
	CloseSlowConsumer         = 4008
	CloseBackendUnavailable   = 4013
	CloseInternalError        = 1011
)

// ConnectError describes why a connection was refused before it was
// accepted.
type ConnectError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	CloseCode  int    `json:"close_code"`
	Err        error  `json:"-"`
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func classify(err error) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return &ConnectError{http.StatusUnauthorized, "authentication failed", CloseAuthenticationFailed, err}
	case errors.Is(err, rooms.ErrForbidden):
		return &ConnectError{http.StatusForbidden, "not a member of this community", CloseAuthorizationFailed, err}
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, rooms.ErrCommunityNotFound):
		return &ConnectError{http.StatusNotFound, "room not found", CloseRoomNotFound, err}
	case errors.Is(err, broadcast.ErrBackendUnavailable):
		return &ConnectError{http.StatusServiceUnavailable, "realtime backend unavailable", CloseBackendUnavailable, err}
	}
	return &ConnectError{http.StatusInternalServerError, "internal server error", CloseInternalError, err}
}
