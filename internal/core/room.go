package core

// Room groups the connections taking part in one call, in join order.
type Room struct {
	ID      string
	members []roomMember
}

type roomMember struct {
	client *Client
	name   string
}

// NewRoom constructs a room with no members.
func NewRoom(id string) *Room {
	return &Room{ID: id}
}

// Members returns a snapshot of the room in join order.
func (r *Room) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, Member{ID: m.client.ID, DisplayName: m.name})
	}
	return out
}

// Clients returns the member connections in join order.
func (r *Room) Clients() []*Client {
	out := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.client)
	}
	return out
}

// NameOf returns the display name c joined with.
func (r *Room) NameOf(c *Client) string {
	for _, m := range r.members {
		if m.client == c {
			return m.name
		}
	}
	return ""
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

func (r *Room) add(c *Client, name string) {
	r.members = append(r.members, roomMember{client: c, name: name})
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m.client == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// RoomManager tracks room membership. A connection belongs to at most one room.
// It is owned by the hub goroutine.
type RoomManager struct {
	rooms  map[string]*Room
	byConn map[*Client]*Room
}

// NewRoomManager creates an empty manager.
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*Room),
		byConn: make(map[*Client]*Room),
	}
}

// Join adds c to roomID and returns the members that were present before it,
// which is exactly the set the joiner has to negotiate with.
func (m *RoomManager) Join(roomID string, c *Client, name string) ([]Member, error) {
	if _, ok := m.byConn[c]; ok {
		return nil, ErrAlreadyInRoom
	}
	room, ok := m.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		m.rooms[roomID] = room
	}
	existing := room.Members()
	room.add(c, name)
	m.byConn[c] = room
	return existing, nil
}

// Leave removes c from its room. The room is discarded once empty.
// It returns the room c left and whether it is now empty.
func (m *RoomManager) Leave(c *Client) (room *Room, emptied bool, err error) {
	room, ok := m.byConn[c]
	if !ok {
		return nil, false, ErrNotInRoom
	}
	room.remove(c)
	delete(m.byConn, c)
	if room.Empty() {
		delete(m.rooms, room.ID)
		return room, true, nil
	}
	return room, false, nil
}

// RoomOf returns the room c currently belongs to.
func (m *RoomManager) RoomOf(c *Client) (*Room, bool) {
	room, ok := m.byConn[c]
	return room, ok
}

// Get returns a room by id.
func (m *RoomManager) Get(roomID string) (*Room, bool) {
	room, ok := m.rooms[roomID]
	return room, ok
}

// SameRoom reports whether a and b currently share a room.
func (m *RoomManager) SameRoom(a, b *Client) bool {
	ra, ok := m.byConn[a]
	if !ok {
		return false
	}
	return m.byConn[b] == ra
}

// Len returns the number of live rooms.
func (m *RoomManager) Len() int {
	return len(m.rooms)
}
