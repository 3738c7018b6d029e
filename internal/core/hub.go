package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/metrics"
)

const (
	defaultRingTimeout   = 30 * time.Second
	defaultCallRetention = 10 * time.Minute
	sweepInterval        = time.Minute
	mirrorTimeout        = 2 * time.Second
)

type envelope struct {
	client *Client
	cmd    *Command
}

type mirrorUpdate struct {
	identity string
	connID   string
	online   bool
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	Registered  int `json:"registered"`
	Rooms       int `json:"rooms"`
	ActiveCalls int `json:"active_calls"`
}

// Hub owns presence, rooms and calls. All state is mutated from the Run goroutine only,
// so every command is applied atomically with respect to every other command.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	inbox      chan envelope
	timeouts   chan string
	queries    chan func()
	done       chan struct{}

	clients    map[*Client]struct{}
	byID       map[string]*Client
	presence   *Presence
	rooms      *RoomManager
	calls      map[string]*callSession
	callByRoom map[string]*callSession
	drops      []*Client

	recorder    Recorder
	mirror      PresenceMirror
	mirrorQueue chan mirrorUpdate
	metrics     *metrics.Metrics
	log         *zerolog.Logger
	ringTimeout time.Duration
	retention   time.Duration
	now         func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithRingTimeout sets how long a call may ring before it times out.
func WithRingTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.ringTimeout = d
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithPresenceMirror publishes online status changes to an external store.
func WithPresenceMirror(mirror PresenceMirror) Option {
	return func(h *Hub) {
		h.mirror = mirror
	}
}

// WithCallRetention sets how long finished calls are remembered for late transitions.
func WithCallRetention(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.retention = d
		}
	}
}

// NewHub creates a hub. recorder and logger may be nil.
func NewHub(recorder Recorder, logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbox:       make(chan envelope, 256),
		timeouts:    make(chan string, 16),
		queries:     make(chan func()),
		done:        make(chan struct{}),
		clients:     make(map[*Client]struct{}),
		byID:        make(map[string]*Client),
		presence:    NewPresence(),
		rooms:       NewRoomManager(),
		calls:       make(map[string]*callSession),
		callByRoom:  make(map[string]*callSession),
		recorder:    recorder,
		mirrorQueue: make(chan mirrorUpdate, 256),
		log:         logger,
		ringTimeout: defaultRingTimeout,
		retention:   defaultCallRetention,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.mirror != nil {
		go h.runMirror(ctx)
	}

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.dropClient(c)
		case env := <-h.inbox:
			h.handleCommand(env.client, env.cmd)
		case callID := <-h.timeouts:
			h.handleRingTimeout(callID)
		case fn := <-h.queries:
			fn()
		case <-sweep.C:
			h.sweep()
		}
		h.flushDrops()
	}
}

// RegisterClient hands a new connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a connection and everything it owns.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Online reports whether identity has a live connection.
func (h *Hub) Online(ctx context.Context, identity string) (bool, error) {
	var online bool
	err := h.query(ctx, func() {
		_, online = h.presence.Lookup(identity)
	})
	return online, err
}

// Stats returns counters describing the hub state.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.query(ctx, func() {
		s.Connections = len(h.clients)
		s.Registered = len(h.presence.byIdentity)
		s.Rooms = h.rooms.Len()
		for _, call := range h.calls {
			if !call.state.Terminal() {
				s.ActiveCalls++
			}
		}
	})
	return s, err
}

func (h *Hub) query(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}
	select {
	case h.queries <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	if _, exists := h.clients[c]; exists {
		return
	}
	h.clients[c] = struct{}{}
	h.byID[c.ID] = c
	h.metrics.ConnectionOpened()
	go h.pump(ctx, c)
}

// pump forwards one client's commands into the hub inbox, preserving their order.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- envelope{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	switch cmd.Kind {
	case CommandRegisterUser:
		h.handleRegister(c, cmd)
	case CommandInitiateCall:
		h.handleInitiate(c, cmd)
	case CommandAcceptCall:
		h.handleAccept(c, cmd)
	case CommandRejectCall:
		h.handleReject(c, cmd)
	case CommandCancelCall:
		h.handleCancel(c, cmd)
	case CommandEndCall:
		h.handleEnd(c, cmd)
	case CommandJoinRoom:
		h.handleJoin(c, cmd)
	case CommandLeaveRoom:
		h.handleLeave(c, cmd)
	case CommandOffer:
		h.relay(c, cmd, EventOffer)
	case CommandAnswer:
		h.relay(c, cmd, EventAnswer)
	case CommandICECandidate:
		h.relay(c, cmd, EventICECandidate)
	case CommandChatMessage:
		h.handleChat(c, cmd)
	default:
		h.deliver(c, errorEvent(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) handleRegister(c *Client, cmd *Command) {
	if cmd.Identity == "" {
		h.deliver(c, errorEvent(ErrCodeBadRequest, "identity required"))
		return
	}
	if cmd.DisplayName != "" {
		c.Name = cmd.DisplayName
	}
	if prev, ok := h.presence.IdentityOf(c); ok && prev != cmd.Identity {
		h.publishPresence(prev, c.ID, false)
	}
	if displaced := h.presence.Register(cmd.Identity, c); displaced != nil {
		h.log.Info().
			Str("identity", cmd.Identity).
			Str("old_conn", displaced.ID).
			Str("new_conn", c.ID).
			Msg("identity moved to new connection")
	}
	h.publishPresence(cmd.Identity, c.ID, true)
	h.metrics.SetRegistered(len(h.presence.byIdentity))
	h.deliver(c, &Event{Kind: EventRegistered, Identity: cmd.Identity, From: c.ID})
}

// deliver queues ev for c. A client whose buffer is full is disconnected after
// the current command, since dropping signaling silently would wedge its peers.
func (h *Hub) deliver(c *Client, ev *Event) {
	if c == nil || c.closed {
		return
	}
	select {
	case c.Events <- ev:
	default:
		h.metrics.EventDropped()
		h.log.Warn().Str("conn_id", c.ID).Msg("client too slow, disconnecting")
		h.drops = append(h.drops, c)
	}
}

// deliverTo sends ev to the live connection of identity, if any.
func (h *Hub) deliverTo(identity string, ev *Event) {
	if c, ok := h.presence.Lookup(identity); ok {
		h.deliver(c, ev)
	}
}

func (h *Hub) flushDrops() {
	for len(h.drops) > 0 {
		c := h.drops[0]
		h.drops = h.drops[1:]
		h.dropClient(c)
	}
}

// dropClient performs the implicit leave for a departing connection.
func (h *Hub) dropClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	// unbind first so the room leave already sees this identity as offline
	identity, registered := h.presence.Unregister(c)
	h.leaveRoom(c)
	if registered {
		h.cancelRingingFrom(identity)
		h.dropRingingTo(identity)
		h.endAbandonedCalls(identity)
		h.publishPresence(identity, c.ID, false)
		h.metrics.SetRegistered(len(h.presence.byIdentity))
	}
	delete(h.clients, c)
	if h.byID[c.ID] == c {
		delete(h.byID, c.ID)
	}
	c.closed = true
	close(c.done)
	close(c.Events)
	h.metrics.ConnectionClosed()
}

func (h *Hub) shutdown() {
	for _, call := range h.calls {
		if call.timer != nil {
			call.timer.Stop()
			call.timer = nil
		}
	}
	for c := range h.clients {
		c.closed = true
		close(c.done)
		close(c.Events)
		delete(h.clients, c)
	}
}

// sweep forgets finished calls and refreshes the presence mirror.
func (h *Hub) sweep() {
	cutoff := h.now().Add(-h.retention)
	for id, call := range h.calls {
		if call.state.Terminal() && call.ended.Before(cutoff) {
			delete(h.calls, id)
			if h.callByRoom[call.roomID] == call {
				delete(h.callByRoom, call.roomID)
			}
		}
	}
	for identity, connID := range h.presence.Identities() {
		h.publishPresence(identity, connID, true)
	}
}

func (h *Hub) publishPresence(identity, connID string, online bool) {
	if h.mirror == nil {
		return
	}
	select {
	case h.mirrorQueue <- mirrorUpdate{identity: identity, connID: connID, online: online}:
	default:
		h.log.Warn().Str("identity", identity).Msg("presence mirror queue full")
	}
}

// runMirror applies presence updates in order so a quick reconnect cannot be
// overtaken by the offline write of the old connection.
func (h *Hub) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.mirrorQueue:
			mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			var err error
			if u.online {
				err = h.mirror.SetOnline(mctx, u.identity, u.connID)
			} else {
				err = h.mirror.SetOffline(mctx, u.identity)
			}
			cancel()
			if err != nil {
				h.log.Warn().Err(err).Str("identity", u.identity).Bool("online", u.online).Msg("presence mirror update failed")
			}
		}
	}
}
