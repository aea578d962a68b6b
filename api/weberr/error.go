package weberr

import (
	"net/http"
)

type ErrorResponse struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type RequestError struct {
	Err error
}

func (r *RequestError) Error() string { return r.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// NewError binds err to an error code and HTTP status. The error text is
// exposed as the message only for client errors.
func NewError(err error, code string, status int, opts ...Opt) error {
	body := &ErrorResponse{Error: code}
	if status < http.StatusInternalServerError {
		body.Message = err.Error()
	}

	e := &RequestError{Err: err}
	opts = append(opts, WithResponse(body, status))

	return Wrap(e, opts...)
}

// WithDetails attaches extra diagnostics to the rendered body.
func WithDetails(err error, code string, status int, details interface{}) error {
	body := &ErrorResponse{Error: code, Message: err.Error(), Details: details}
	return Wrap(&RequestError{Err: err}, WithResponse(body, status))
}

func NotFound(err error, code string, opts ...Opt) error {
	return NewError(err, code, http.StatusNotFound, opts...)
}

func NotAuthorized(err error, code string, opts ...Opt) error {
	return NewError(err, code, http.StatusUnauthorized, opts...)
}

func Forbidden(err error, code string, opts ...Opt) error {
	return NewError(err, code, http.StatusForbidden, opts...)
}

func InternalError(err error, code string, opts ...Opt) error {
	return NewError(err, code, http.StatusInternalServerError, opts...)
}

func BadRequest(err error, code string, opts ...Opt) error {
	return NewError(err, code, http.StatusBadRequest, opts...)
}
