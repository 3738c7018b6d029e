package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegisterUser binds the connection to a participant identity.
	CommandRegisterUser CommandKind = iota
	// CommandInitiateCall rings a callee.
	CommandInitiateCall
	// CommandAcceptCall answers a ringing call.
	CommandAcceptCall
	// CommandRejectCall declines a ringing call.
	CommandRejectCall
	// CommandCancelCall withdraws a ringing call from the caller side.
	CommandCancelCall
	// CommandEndCall hangs up an accepted call.
	CommandEndCall
	// CommandJoinRoom adds the client to a call room.
	CommandJoinRoom
	// CommandLeaveRoom removes the client from its call room.
	CommandLeaveRoom
	// CommandOffer relays an SDP offer to a peer.
	CommandOffer
	// CommandAnswer relays an SDP answer to a peer.
	CommandAnswer
	// CommandICECandidate relays a trickled ICE candidate to a peer.
	CommandICECandidate
	// CommandChatMessage broadcasts a chat line to the room.
	CommandChatMessage
)

var commandNames = map[CommandKind]string{
	CommandRegisterUser: "register-user",
	CommandInitiateCall: "initiate-call",
	CommandAcceptCall:   "accept-call",
	CommandRejectCall:   "reject-call",
	CommandCancelCall:   "cancel-call",
	CommandEndCall:      "end-call",
	CommandJoinRoom:     "join-room",
	CommandLeaveRoom:    "leave-room",
	CommandOffer:        "offer",
	CommandAnswer:       "answer",
	CommandICECandidate: "ice-candidate",
	CommandChatMessage:  "chat-message",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command represents an action requested by a client.
type Command struct {
	Kind        CommandKind
	Identity    string // register-user
	DisplayName string // register-user, join-room
	CalleeID    string // initiate-call
	CallID      string // accept/reject/cancel/end
	Room        string // join/leave/chat
	Target      string // offer/answer/ice-candidate: target connection id
	Payload     json.RawMessage
	Text        string // chat
}
