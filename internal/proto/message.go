package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeRegisterUser = "register-user"
	InboundTypeInitiateCall = "initiate-call"
	InboundTypeAcceptCall   = "accept-call"
	InboundTypeRejectCall   = "reject-call"
	InboundTypeCancelCall   = "cancel-call"
	InboundTypeEndCall      = "end-call"
	InboundTypeJoinRoom     = "join-room"
	InboundTypeLeaveRoom    = "leave-room"
	InboundTypeOffer        = "offer"
	InboundTypeAnswer       = "answer"
	InboundTypeICECandidate = "ice-candidate"
	InboundTypeChatMessage  = "chat-message"

	OutboundTypeRegistered    = "registered"
	OutboundTypeIncomingCall  = "incoming-call"
	OutboundTypeCallRinging   = "call-ringing"
	OutboundTypeCalleeOffline = "callee-offline"
	OutboundTypeCallAccepted  = "call-accepted"
	OutboundTypeCallRejected  = "call-rejected"
	OutboundTypeCallTooLate   = "call-too-late"
	OutboundTypeCallCanceled  = "call-canceled"
	OutboundTypeCallTimeout   = "call-timeout"
	OutboundTypeCallEnded     = "call-ended"
	OutboundTypeExistingUsers = "existing-users"
	OutboundTypeUserJoined    = "user-joined"
	OutboundTypeUserLeft      = "user-left"
	OutboundTypeOffer         = "offer"
	OutboundTypeAnswer        = "answer"
	OutboundTypeICECandidate  = "ice-candidate"
	OutboundTypeChatMessage   = "chat-message"
	OutboundTypeError         = "error"
)

// RegisterUserData binds the connection to a participant identity.
type RegisterUserData struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	Token       string `json:"token,omitempty"`
	Protocol    int    `json:"protocol,omitempty"`
}

// InitiateCallData asks the server to ring a callee.
type InitiateCallData struct {
	CalleeID string `json:"calleeId"`
}

// CallRefData addresses an existing call.
type CallRefData struct {
	CallID string `json:"callId"`
	RoomID string `json:"roomId,omitempty"`
}

// JoinRoomData requests to join a call room.
type JoinRoomData struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
}

// LeaveRoomData requests to leave a call room.
type LeaveRoomData struct {
	RoomID string `json:"roomId"`
}

// SessionDescriptionData carries an offer or answer to a target connection.
type SessionDescriptionData struct {
	Target string          `json:"target"`
	SDP    json.RawMessage `json:"sdp"`
}

// ICECandidateData carries one trickled candidate to a target connection.
type ICECandidateData struct {
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

// ChatMessageData is a chat line for everyone in the room.
type ChatMessageData struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// OutboundRaw is the client-side view of Outbound with undecoded data.
type OutboundRaw struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// EventRegistered confirms register-user.
type EventRegistered struct {
	ConnectionID string `json:"connectionId"`
	Identity     string `json:"identity"`
}

// EventIncomingCall rings the callee.
type EventIncomingCall struct {
	CallID     string `json:"callId"`
	RoomID     string `json:"roomId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName,omitempty"`
}

// EventCallRinging confirms to the caller that the callee is being rung.
type EventCallRinging struct {
	CallID   string `json:"callId"`
	RoomID   string `json:"roomId"`
	CalleeID string `json:"calleeId"`
}

// EventCalleeOffline tells the caller nobody could be rung.
type EventCalleeOffline struct {
	CallID   string `json:"callId"`
	CalleeID string `json:"calleeId"`
}

// EventCallAccepted tells the caller which room to join.
type EventCallAccepted struct {
	CallID string `json:"callId"`
	RoomID string `json:"roomId"`
}

// EventCallState is shared by rejected, canceled, timeout, too-late and ended events.
type EventCallState struct {
	CallID string `json:"callId"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
	By     string `json:"by,omitempty"`
}

// Member is one entry of the existing-users snapshot.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// EventUserJoined notifies existing members about a new member.
type EventUserJoined struct {
	PeerID   string `json:"peerId"`
	PeerName string `json:"peerName"`
}

// EventUserLeft notifies remaining members about a departure.
type EventUserLeft struct {
	PeerID string `json:"peerId"`
}

// EventSessionDescription is a relayed offer or answer.
type EventSessionDescription struct {
	SDP    json.RawMessage `json:"sdp"`
	Caller string          `json:"caller"`
	Name   string          `json:"name,omitempty"`
}

// EventICECandidate is a relayed candidate.
type EventICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
	Caller    string          `json:"caller"`
}

// EventChatMessage is a chat line broadcast to a room.
type EventChatMessage struct {
	RoomID   string `json:"roomId"`
	Sender   string `json:"sender"`
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
	TS       int64  `json:"ts"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewInbound marshals data into an inbound envelope.
func NewInbound(msgType string, data any) (Inbound, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: msgType, Data: payload}, nil
}
