package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// WSSignaler talks to the signaling server over a websocket.
type WSSignaler struct {
	conn   *websocket.Conn
	events chan proto.OutboundRaw
	logger *zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// DialSignaler connects to url (for example ws://localhost:8080/ws) and starts reading.
func DialSignaler(ctx context.Context, url string, logger *zerolog.Logger) (*WSSignaler, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	s := &WSSignaler{
		conn:   conn,
		events: make(chan proto.OutboundRaw, 64),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *WSSignaler) Send(ctx context.Context, msgType string, data any) error {
	inbound, err := proto.NewInbound(msgType, data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := wsjson.Write(ctx, s.conn, inbound); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Events delivers server messages in arrival order. It is closed when the
// connection ends.
func (s *WSSignaler) Events() <-chan proto.OutboundRaw {
	return s.events
}

// Register binds the connection to identity and waits for the confirmation.
// Events that arrive before it are discarded.
func (s *WSSignaler) Register(ctx context.Context, data proto.RegisterUserData) (proto.EventRegistered, error) {
	var reg proto.EventRegistered
	if data.Protocol == 0 {
		data.Protocol = proto.ProtocolVersion
	}
	if err := s.Send(ctx, proto.InboundTypeRegisterUser, data); err != nil {
		return reg, err
	}
	for {
		select {
		case <-ctx.Done():
			return reg, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return reg, errors.New("connection closed before registration")
			}
			if ev.Type == proto.OutboundTypeError && ev.Error != nil {
				return reg, fmt.Errorf("register: %s: %s", ev.Error.Code, ev.Error.Msg)
			}
			if ev.Type == proto.OutboundTypeRegistered {
				err := decode(ev, &reg)
				return reg, err
			}
		}
	}
}

func (s *WSSignaler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}

func (s *WSSignaler) readLoop() {
	defer close(s.events)
	ctx := context.Background()
	for {
		var ev proto.OutboundRaw
		if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
			if websocket.CloseStatus(err) == -1 {
				select {
				case <-s.done:
				default:
					s.logger.Warn().Err(err).Msg("signaling read failed")
				}
			}
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func decode(ev proto.OutboundRaw, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return nil
}
