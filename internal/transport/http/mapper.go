package http

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/proto"
)

func invalid(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: msg}
}

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

// inboundToCommand decodes one client message. Registration is resolved here so
// the hub only ever sees verified identities.
func inboundToCommand(ctx context.Context, resolver identity.Resolver, inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeRegisterUser:
		var reg proto.RegisterUserData
		if err := json.Unmarshal(inbound.Data, &reg); err != nil {
			return nil, invalid("malformed register-user")
		}
		if reg.Protocol > proto.ProtocolVersion {
			return nil, &proto.Error{Code: core.ErrCodeUnsupportedVersion, Msg: "unsupported protocol version"}
		}
		id, err := resolver.Resolve(ctx, reg.Identity, reg.DisplayName, reg.Token)
		if err != nil {
			if errors.Is(err, identity.ErrMissingIdentity) {
				return nil, badRequest("identity required")
			}
			return nil, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: err.Error()}
		}
		return &core.Command{
			Kind:        core.CommandRegisterUser,
			Identity:    id.ID,
			DisplayName: id.DisplayName,
		}, nil
	case proto.InboundTypeInitiateCall:
		var data proto.InitiateCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed initiate-call")
		}
		if data.CalleeID == "" {
			return nil, badRequest("calleeId is required")
		}
		return &core.Command{Kind: core.CommandInitiateCall, CalleeID: data.CalleeID}, nil
	case proto.InboundTypeAcceptCall, proto.InboundTypeRejectCall, proto.InboundTypeCancelCall, proto.InboundTypeEndCall:
		var data proto.CallRefData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed " + inbound.Type)
		}
		if data.CallID == "" {
			return nil, badRequest("callId is required")
		}
		return &core.Command{Kind: callCommandKinds[inbound.Type], CallID: data.CallID}, nil
	case proto.InboundTypeJoinRoom:
		var data proto.JoinRoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed join-room")
		}
		if data.RoomID == "" {
			return nil, badRequest("roomId is required")
		}
		return &core.Command{Kind: core.CommandJoinRoom, Room: data.RoomID, DisplayName: data.DisplayName}, nil
	case proto.InboundTypeLeaveRoom:
		var data proto.LeaveRoomData
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &data); err != nil {
				return nil, invalid("malformed leave-room")
			}
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: data.RoomID}, nil
	case proto.InboundTypeOffer, proto.InboundTypeAnswer:
		var data proto.SessionDescriptionData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed " + inbound.Type)
		}
		if data.Target == "" || len(data.SDP) == 0 {
			return nil, badRequest("target and sdp are required")
		}
		kind := core.CommandOffer
		if inbound.Type == proto.InboundTypeAnswer {
			kind = core.CommandAnswer
		}
		return &core.Command{Kind: kind, Target: data.Target, Payload: data.SDP}, nil
	case proto.InboundTypeICECandidate:
		var data proto.ICECandidateData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed ice-candidate")
		}
		if data.Target == "" || len(data.Candidate) == 0 {
			return nil, badRequest("target and candidate are required")
		}
		return &core.Command{Kind: core.CommandICECandidate, Target: data.Target, Payload: data.Candidate}, nil
	case proto.InboundTypeChatMessage:
		var data proto.ChatMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, invalid("malformed chat-message")
		}
		if data.Message == "" {
			return nil, badRequest("message is required")
		}
		return &core.Command{Kind: core.CommandChatMessage, Room: data.RoomID, Text: data.Message}, nil
	default:
		return nil, invalid("unknown message type")
	}
}

var callCommandKinds = map[string]core.CommandKind{
	proto.InboundTypeAcceptCall: core.CommandAcceptCall,
	proto.InboundTypeRejectCall: core.CommandRejectCall,
	proto.InboundTypeCancelCall: core.CommandCancelCall,
	proto.InboundTypeEndCall:    core.CommandEndCall,
}

var callStateTypes = map[core.EventKind]string{
	core.EventCallRejected: proto.OutboundTypeCallRejected,
	core.EventCallTooLate:  proto.OutboundTypeCallTooLate,
	core.EventCallCanceled: proto.OutboundTypeCallCanceled,
	core.EventCallTimeout:  proto.OutboundTypeCallTimeout,
	core.EventCallEnded:    proto.OutboundTypeCallEnded,
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventRegistered:
		return proto.Outbound{
			Type: proto.OutboundTypeRegistered,
			Data: proto.EventRegistered{ConnectionID: event.From, Identity: event.Identity},
		}
	case core.EventIncomingCall:
		return proto.Outbound{
			Type: proto.OutboundTypeIncomingCall,
			Data: proto.EventIncomingCall{
				CallID:     event.Call.CallID,
				RoomID:     event.Call.RoomID,
				CallerID:   event.Call.CallerID,
				CallerName: event.Call.CallerName,
			},
		}
	case core.EventCallRinging:
		return proto.Outbound{
			Type: proto.OutboundTypeCallRinging,
			Data: proto.EventCallRinging{CallID: event.Call.CallID, RoomID: event.Call.RoomID, CalleeID: event.Call.CalleeID},
		}
	case core.EventCalleeOffline:
		return proto.Outbound{
			Type: proto.OutboundTypeCalleeOffline,
			Data: proto.EventCalleeOffline{CallID: event.Call.CallID, CalleeID: event.Call.CalleeID},
		}
	case core.EventCallAccepted:
		return proto.Outbound{
			Type: proto.OutboundTypeCallAccepted,
			Data: proto.EventCallAccepted{CallID: event.Call.CallID, RoomID: event.Call.RoomID},
		}
	case core.EventCallRejected, core.EventCallTooLate, core.EventCallCanceled, core.EventCallTimeout, core.EventCallEnded:
		return proto.Outbound{
			Type: callStateTypes[event.Kind],
			Data: proto.EventCallState{
				CallID: event.Call.CallID,
				State:  event.Call.State,
				Reason: event.Call.Reason,
				By:     event.Call.By,
			},
		}
	case core.EventExistingUsers:
		members := make([]proto.Member, 0, len(event.Members))
		for _, m := range event.Members {
			members = append(members, proto.Member{ID: m.ID, DisplayName: m.DisplayName})
		}
		return proto.Outbound{Type: proto.OutboundTypeExistingUsers, Data: members}
	case core.EventUserJoined:
		return proto.Outbound{
			Type: proto.OutboundTypeUserJoined,
			Data: proto.EventUserJoined{PeerID: event.From, PeerName: event.FromName},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type: proto.OutboundTypeUserLeft,
			Data: proto.EventUserLeft{PeerID: event.From},
		}
	case core.EventOffer:
		return proto.Outbound{
			Type: proto.OutboundTypeOffer,
			Data: proto.EventSessionDescription{SDP: event.Payload, Caller: event.From, Name: event.FromName},
		}
	case core.EventAnswer:
		return proto.Outbound{
			Type: proto.OutboundTypeAnswer,
			Data: proto.EventSessionDescription{SDP: event.Payload, Caller: event.From},
		}
	case core.EventICECandidate:
		return proto.Outbound{
			Type: proto.OutboundTypeICECandidate,
			Data: proto.EventICECandidate{Candidate: event.Payload, Caller: event.From},
		}
	case core.EventChatMessage:
		return proto.Outbound{
			Type: proto.OutboundTypeChatMessage,
			Data: proto.EventChatMessage{
				RoomID:   event.Room,
				Sender:   event.FromName,
				SenderID: event.From,
				Message:  event.Text,
				TS:       event.At.Unix(),
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown event"}}
	}
}
