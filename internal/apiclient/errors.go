package apiclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the point it happens. Callers branch on the
// kind, never on the message text.
type Kind int

const (
	// KindConnectivity: no reachable network; the request was never attempted.
	KindConnectivity Kind = iota + 1
	// KindAuth: a 401 that one refresh could not resolve; the session is cleared.
	KindAuth
	// KindProtocol: non-success status with an interpretable body.
	KindProtocol
	// KindMalformed: a body that should have been JSON failed to parse.
	KindMalformed
	// KindTransport: the request failed below HTTP (DNS, TLS, reset).
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrNoConnection   = errors.New("no network connection")
	ErrNoInternet     = errors.New("no internet connection")
	ErrSessionExpired = errors.New("session expired, please log in again")
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// Error is the single error type returned by the orchestrators.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error returns the user-displayable message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNoConnection:
		return e.Kind == KindConnectivity
	case ErrNoInternet:
		return e.Kind == KindTransport
	case ErrSessionExpired:
		return e.Kind == KindAuth
	}
	return false
}

// KindOf returns the Kind of err, or 0 if err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func connectivityError() *Error {
	return &Error{Kind: KindConnectivity, Message: ErrNoConnection.Error()}
}

func transportError(cause error) *Error {
	return &Error{Kind: KindTransport, Message: ErrNoInternet.Error(), Err: cause}
}

func sessionExpiredError(cause error) *Error {
	return &Error{Kind: KindAuth, Status: 401, Message: ErrSessionExpired.Error(), Err: cause}
}

func malformedError(status int, cause error) *Error {
	return &Error{
		Kind:    KindMalformed,
		Status:  status,
		Message: fmt.Sprintf("malformed response (status %d): %v", status, cause),
		Err:     cause,
	}
}

func protocolError(status int, message string) *Error {
	return &Error{Kind: KindProtocol, Status: status, Message: message}
}
