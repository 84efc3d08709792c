// Package chat maintains a realtime connection per quest room with linear
// backoff reconnection, message deduplication and an HTTP send fallback.
package chat

import (
	"errors"
	"time"
)

var (
	// ErrConnectionFailed is reported once the reconnect budget is exhausted.
	ErrConnectionFailed = errors.New("unable to connect to chat")
	// ErrInvalidFrame marks an incoming frame that is neither the connected
	// notice nor a valid message.
	ErrInvalidFrame = errors.New("invalid chat frame")
)

// Defaults for Config.
const (
	DefaultBackoffUnit = 2 * time.Second
	DefaultMaxAttempts = 5
)

// State is the lifecycle of a room's connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): n * unit.
func Backoff(attempt int, unit time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * unit
}
