package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a call record does not exist.
var ErrNotFound = errors.New("not found")

// CallStatus defines the persisted call status.
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusAccepted CallStatus = "accepted"
	CallStatusRejected CallStatus = "rejected"
	CallStatusEnded    CallStatus = "ended"
)

// EndReason records why a call reached the ended status.
type EndReason string

const (
	EndReasonNone         EndReason = ""
	EndReasonHangup       EndReason = "hangup"
	EndReasonTimeout      EndReason = "timeout"
	EndReasonUnreachable  EndReason = "unreachable"
	EndReasonCanceled     EndReason = "canceled"
	EndReasonRoomEmpty    EndReason = "room_empty"
	EndReasonDisconnected EndReason = "disconnected"
)

// Call is the historical record of one invitation-to-hangup lifecycle.
type Call struct {
	ID        string // UUID
	CallerID  string
	CalleeID  string
	RoomID    string
	Status    CallStatus
	EndReason EndReason
	CreatedAt time.Time
	UpdatedAt time.Time
	EndedAt   *time.Time
}

// CallStore handles call persistence.
type CallStore interface {
	// CreateCall inserts a new call record. The caller supplies the id.
	CreateCall(ctx context.Context, call *Call) error

	// UpdateCallStatus moves a call to status at the given time.
	// ended_at is stamped only when status is ended and it was not set before.
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus, reason EndReason, at time.Time) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*Call, error)

	// ListCallsForParticipant lists the most recent calls where identity was caller or callee.
	ListCallsForParticipant(ctx context.Context, identity string, limit int) ([]*Call, error)

	// Close closes the underlying database connection.
	Close() error
}
