package core

import "errors"

func (h *Hub) handleJoin(c *Client, cmd *Command) {
	if cmd.Room == "" {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "roomId required"))
		return
	}
	call, isCallRoom := h.callByRoom[cmd.Room]
	if isCallRoom && call.state.Terminal() {
		h.deliver(c, errorEvent(ErrCodeCallEnded, "call has ended"))
		return
	}
	name := cmd.DisplayName
	if name == "" {
		name = c.Name
	}
	existing, err := h.rooms.Join(cmd.Room, c, name)
	if err != nil {
		if errors.Is(err, ErrAlreadyInRoom) {
			h.deliver(c, errorEvent(ErrCodeAlreadyInRoom, "already in a room"))
			return
		}
		h.deliver(c, errorEvent(ErrCodeBadRequest, err.Error()))
		return
	}
	h.metrics.SetRooms(h.rooms.Len())
	if isCallRoom {
		if identity, ok := h.presence.IdentityOf(c); ok {
			call.markJoined(identity)
		}
	}

	h.deliver(c, &Event{Kind: EventExistingUsers, Room: cmd.Room, Members: existing})
	for _, m := range existing {
		h.deliver(h.byID[m.ID], &Event{Kind: EventUserJoined, Room: cmd.Room, From: c.ID, FromName: name})
	}
}

func (h *Hub) handleLeave(c *Client, cmd *Command) {
	room, ok := h.rooms.RoomOf(c)
	if !ok || (cmd.Room != "" && cmd.Room != room.ID) {
		h.deliver(c, errorEvent(ErrCodeNotInRoom, "not in room"))
		return
	}
	h.leaveRoom(c)
}

// leaveRoom removes c from its room and tells the members that remain.
func (h *Hub) leaveRoom(c *Client) {
	room, emptied, err := h.rooms.Leave(c)
	if err != nil {
		return
	}
	for _, member := range room.Clients() {
		h.deliver(member, &Event{Kind: EventUserLeft, Room: room.ID, From: c.ID})
	}
	if emptied {
		h.endRoomCall(room.ID)
	}
	h.metrics.SetRooms(h.rooms.Len())
}

// relay forwards an offer, answer or ICE candidate to a peer in the sender's room.
// The payload is passed through untouched and tagged with the sender's connection id.
func (h *Hub) relay(c *Client, cmd *Command, kind EventKind) {
	if cmd.Target == "" || cmd.Target == c.ID {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "valid target required"))
		return
	}
	target, ok := h.byID[cmd.Target]
	if !ok {
		h.deliver(c, errorEvent(ErrCodePeerNotFound, "peer not found"))
		return
	}
	if !h.rooms.SameRoom(c, target) {
		h.deliver(c, errorEvent(ErrCodeNotInRoom, "peer is not in your room"))
		return
	}
	room, _ := h.rooms.RoomOf(c)
	h.deliver(target, &Event{
		Kind:     kind,
		Room:     room.ID,
		From:     c.ID,
		FromName: room.NameOf(c),
		Payload:  cmd.Payload,
	})
	h.metrics.Relayed(cmd.Kind.String())
}

func (h *Hub) handleChat(c *Client, cmd *Command) {
	room, ok := h.rooms.RoomOf(c)
	if !ok || (cmd.Room != "" && cmd.Room != room.ID) {
		h.deliver(c, errorEvent(ErrCodeNotInRoom, "join the room first"))
		return
	}
	if cmd.Text == "" {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "empty message"))
		return
	}
	ev := &Event{
		Kind:     EventChatMessage,
		Room:     room.ID,
		From:     c.ID,
		FromName: room.NameOf(c),
		Text:     cmd.Text,
		At:       h.now(),
	}
	for _, member := range room.Clients() {
		h.deliver(member, ev)
	}
	h.metrics.Relayed(cmd.Kind.String())
}
