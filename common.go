package piper

import "errors"

var (
	ErrSetupFailed       = errors.New("pipe setup failed")
	ErrIOTransient       = errors.New("pipe i/o failed")
	ErrProtocolViolation = errors.New("pipe protocol violation")
	ErrPeerClosed        = errors.New("pipe closed by peer")
	ErrAlreadyTerminated = errors.New("sender already terminated")
	ErrEmptyMessage      = errors.New("message must not be empty")
	ErrMessageTooLarge   = errors.New("message too large for frame header")
	ErrAlreadyExists     = errors.New("pipe already exists")
	ErrNotDirectory      = errors.New("pipe directory path is not a directory")
)

// Status is the outcome of the last operation performed by an endpoint's
// background goroutine.
type Status int

const (
	StatusOK Status = iota
	StatusSetupFailed
	StatusIOTransient
	StatusProtocolViolation
	StatusPeerClosed
	StatusAlreadyTerminated
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSetupFailed:
		return "setup-failed"
	case StatusIOTransient:
		return "io-transient"
	case StatusProtocolViolation:
		return "protocol-violation"
	case StatusPeerClosed:
		return "peer-closed"
	case StatusAlreadyTerminated:
		return "already-terminated"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for the status, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusSetupFailed:
		return ErrSetupFailed
	case StatusIOTransient:
		return ErrIOTransient
	case StatusProtocolViolation:
		return ErrProtocolViolation
	case StatusPeerClosed:
		return ErrPeerClosed
	case StatusAlreadyTerminated:
		return ErrAlreadyTerminated
	default:
		return nil
	}
}

// StatusOf classifies an error returned by this package.
// Errors that match no sentinel are reported as StatusIOTransient.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrSetupFailed):
		return StatusSetupFailed
	case errors.Is(err, ErrProtocolViolation):
		return StatusProtocolViolation
	case errors.Is(err, ErrPeerClosed):
		return StatusPeerClosed
	case errors.Is(err, ErrAlreadyTerminated):
		return StatusAlreadyTerminated
	default:
		return StatusIOTransient
	}
}

// Message represents a value with optional error and source information.
// FanIn uses it to carry received payloads together with the Receiver they
// came from.
type Message[T any] struct {
	Value  T     // The actual value being transmitted
	Error  error // Any error that occurred during processing
	Source any   // Optional source information for debugging
}
