package dispatcher

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrife/devkv/credentials"
	"github.com/jrife/devkv/registry"
	"github.com/jrife/devkv/session"
)

const (
	// StatusSuccess marks a response that completed the operation
	StatusSuccess = "success"
	// StatusError marks a response that did not
	StatusError = "error"
)

var (
	// ErrBadRequest is returned when a request is missing
	// a required value or carries one of the wrong shape
	ErrBadRequest = errors.New("bad request")
	// ErrUnsupported is returned for unrecognized verbs
	ErrUnsupported = errors.New("unsupported verb")
)

// Error pairs a sentinel error with the message
// reported to the caller
type Error struct {
	Err     error
	Message string
}

func (err *Error) Error() string {
	return err.Message
}

// Unwrap returns the underlying sentinel
func (err *Error) Unwrap() error {
	return err.Err
}

func badRequest(message string) error {
	return &Error{Err: ErrBadRequest, Message: message}
}

// Response is the terminal result of a request. Exactly one
// of Message or Data is set. HTTPStatus is the status hint
// for the transport. Err is the cause of an error response
// and is never serialized.
type Response struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	HTTPStatus int             `json:"-"`
	Err        error           `json:"-"`
}

// Success returns true if the operation completed
func (response Response) Success() bool {
	return response.Status == StatusSuccess
}

func message(httpStatus int, msg string) Response {
	return Response{Status: StatusSuccess, Message: msg, HTTPStatus: httpStatus}
}

func data(raw json.RawMessage) Response {
	return Response{Status: StatusSuccess, Data: raw, HTTPStatus: http.StatusOK}
}

func failure(err error) Response {
	return Response{Status: StatusError, Message: err.Error(), HTTPStatus: StatusHint(err), Err: err}
}

// StatusHint maps an error returned by one of the
// dispatcher's collaborators to an HTTP status code
func StatusHint(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest), errors.Is(err, registry.ErrEmptyCredential):
		return http.StatusBadRequest
	case credentials.IsRejection(err), errors.Is(err, session.ErrAuthFailure), errors.Is(err, registry.ErrRevoked):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupported):
		return http.StatusMethodNotAllowed
	}

	return http.StatusInternalServerError
}
