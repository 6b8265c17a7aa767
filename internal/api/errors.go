package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/skillnest/realtime/internal/broadcast"
	"github.com/skillnest/realtime/internal/chat"
	"github.com/skillnest/realtime/internal/database"
	"github.com/skillnest/realtime/internal/meeting"
	"github.com/skillnest/realtime/internal/notify"
	"github.com/skillnest/realtime/internal/rooms"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden, nil)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// NewValidationError reports a rejected request body with the reason
// visible to the caller.
func NewValidationError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    err.Error(),
		Err:        err,
	}
}

// errorFor maps a domain error to its HTTP response.
func errorFor(err error) *ApiError {
	switch {
	case errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, chat.ErrInvalidCursor),
		errors.Is(err, notify.ErrInvalidType),
		errors.Is(err, notify.ErrInvalidRecipient):
		return NewValidationError(err)
	case errors.Is(err, rooms.ErrForbidden),
		errors.Is(err, chat.ErrNotSender),
		errors.Is(err, meeting.ErrNotHost):
		return NewForbiddenError()
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, rooms.ErrCommunityNotFound),
		errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, meeting.ErrMeetingNotFound),
		errors.Is(err, meeting.ErrNoActiveMeeting),
		errors.Is(err, notify.ErrNotificationNotFound),
		errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, broadcast.ErrBackendUnavailable):
		return NewServiceUnavailableError(err)
	}
	return NewInternalServerError(err)
}
