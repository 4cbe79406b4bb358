package authclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork matches request outcomes where no response was received.
	ErrNetwork = errors.New("network error")
	// ErrHTTP matches request outcomes where the server answered with a non-2xx status.
	ErrHTTP = errors.New("http error")
	// ErrMalformedResponse matches 2xx responses whose body is not valid JSON.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrClientNotReady is returned by methods called on a nil or closed Client.
	ErrClientNotReady = errors.New("client not initialized")
	// ErrInvalidRequest is returned when a Request cannot be turned into an HTTP request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoRefreshToken is the refresh failure cause when the session holds no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshRejected is the refresh failure cause when the refresh endpoint answered
	// with an unusable response.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrLoginResponseInvalid is returned when a login response carries no access token.
	ErrLoginResponseInvalid = errors.New("login response missing access token")
	// ErrResponseTooLarge is the cause of an APIError whose response body
	// exceeded the client's read limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// ErrorKind tags the class of an [APIError].
type ErrorKind uint8

const (
	// KindHTTP is a non-2xx response from the server.
	KindHTTP ErrorKind = iota
	// KindNetwork is a transport failure; Status is 0.
	KindNetwork
	// KindMalformed is a 2xx response whose body is not valid JSON.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindMalformed:
		return "malformed"
	default:
		return "http"
	}
}

// APIError is the single error type returned for failed requests.
//
// Status 0 denotes a transport failure and is never produced by a server.
// Data holds the decoded response payload, {"text": raw} for bodies that are
// not JSON, or {"networkError": true} for transport failures.
type APIError struct {
	Message string
	Data    any
	Status  int
	Kind    ErrorKind
	// Err is the transport cause for KindNetwork errors, or ErrResponseTooLarge.
	Err error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind == KindNetwork {
		return fmt.Sprintf("authclient: %s", e.Message)
	}
	return fmt.Sprintf("authclient: %s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match an APIError against ErrNetwork, ErrHTTP and
// ErrMalformedResponse.
func (e *APIError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrHTTP:
		return e.Kind == KindHTTP
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

// Unauthorized reports whether the error is an HTTP 401.
func (e *APIError) Unauthorized() bool {
	return e != nil && e.Kind == KindHTTP && e.Status == 401
}
