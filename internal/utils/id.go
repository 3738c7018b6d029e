package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random identifier for a live connection.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewCallID returns a fresh call identifier.
func NewCallID() string {
	return uuid.NewString()
}

// NewRoomID returns a room identifier. Room ids are derived from a new uuid on
// every call so they are never reused across calls.
func NewRoomID() string {
	return "room-" + uuid.NewString()
}
