package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/identity"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/utils"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	resolver identity.Resolver
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, resolver identity.Resolver, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	if resolver == nil {
		resolver = identity.Trusting{}
	}
	return &WSHandler{hub: hub, resolver: resolver, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewID(), "", h.cfg.ClientBuffer)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	log := h.log.With().Str("conn_id", client.ID).Logger()
	log.Debug().Str("remote", r.RemoteAddr).Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &log)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &log)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
	log.Debug().Msg("ws disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.MessagesPerSecond, h.cfg.MessageBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if !limiter.allow() {
			if err := h.writeError(ctx, conn, &proto.Error{Code: core.ErrCodeRateLimited, Msg: "slow down"}); err != nil {
				return err
			}
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			log.Debug().Err(err).Msg("malformed inbound")
			if err := h.writeError(ctx, conn, invalid("malformed json")); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(ctx, h.resolver, inbound)
		if protoErr != nil {
			log.Debug().Str("kind", inbound.Type).Str("code", protoErr.Code).Msg("rejected inbound")
			if err := h.writeError(ctx, conn, protoErr); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, protoErr *proto.Error) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: protoErr})
}
