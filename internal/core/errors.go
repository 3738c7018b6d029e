package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotRegistered      = "not_registered"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeUnauthorized       = "unauthorized"

	// Room and relay error codes
	ErrCodeAlreadyInRoom = "already_in_room"
	ErrCodeNotInRoom     = "not_in_room"
	ErrCodePeerNotFound  = "peer_not_found"

	// Call-related error codes
	ErrCodeCallNotFound   = "call_not_found"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeCannotCallSelf = "cannot_call_self"
	ErrCodeCallEnded      = "call_ended"
)

var (
	ErrAlreadyInRoom = errors.New("already in a room")
	ErrNotInRoom     = errors.New("not in room")
	ErrHubStopped    = errors.New("hub stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
