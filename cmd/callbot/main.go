// Command callbot is a headless call participant. It registers, places or
// answers one call, joins the room with synthetic media and stays until the
// call ends.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/log"
	"github.com/vovakirdan/wirecall/internal/peer"
	"github.com/vovakirdan/wirecall/internal/proto"
)

type options struct {
	addr       string
	identity   string
	name       string
	token      string
	call       string
	stun       string
	shareAfter time.Duration
	shareFor   time.Duration
	duration   time.Duration
	logLevel   string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "WebSocket address")
	flag.StringVar(&opts.identity, "identity", "callbot", "identity to register as")
	flag.StringVar(&opts.name, "name", "", "display name (defaults to identity)")
	flag.StringVar(&opts.token, "token", "", "JWT for servers with token auth")
	flag.StringVar(&opts.call, "call", "", "callee to ring; without it the bot answers the first incoming call")
	flag.StringVar(&opts.stun, "stun", strings.Join(config.Default().ICEServers, ","), "comma separated ICE server URLs")
	flag.DurationVar(&opts.shareAfter, "share-after", 0, "start a synthetic screen share after this delay (0 disables)")
	flag.DurationVar(&opts.shareFor, "share-for", 10*time.Second, "length of the synthetic screen share")
	flag.DurationVar(&opts.duration, "duration", time.Minute, "hang up after this long in the room")
	flag.StringVar(&opts.logLevel, "log-level", "info", "log level")
	flag.Parse()

	logger := log.New(opts.logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error().Err(err).Msg("callbot failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *zerolog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sig, err := peer.DialSignaler(dialCtx, opts.addr, logger)
	if err != nil {
		return err
	}
	defer sig.Close()

	reg, err := sig.Register(dialCtx, proto.RegisterUserData{Identity: opts.identity, DisplayName: opts.name, Token: opts.token})
	if err != nil {
		return err
	}
	logger.Info().Str("identity", reg.Identity).Str("conn_id", reg.ConnectionID).Msg("registered")

	call, err := establish(ctx, sig, opts, logger)
	if err != nil {
		return err
	}
	logger.Info().Str("call_id", call.CallID).Str("room_id", call.RoomID).Msg("call established")

	ended := make(chan string, 1)
	cfg := peer.Config{
		RoomID:      call.RoomID,
		DisplayName: opts.name,
		ICEServers:  splitList(opts.stun),
		Media:       &peer.SyntheticMedia{Video: true},
		Screen:      &peer.SyntheticScreen{Duration: opts.shareFor},
		OnPeerFailed: func(peerID string, err error) {
			logger.Warn().Err(err).Str("peer_id", peerID).Msg("peer connection failed")
		},
		OnSpeaking: func(peerID string, speaking bool) {
			logger.Debug().Str("peer_id", peerID).Bool("speaking", speaking).Msg("activity")
		},
		OnChat: func(msg proto.EventChatMessage) {
			logger.Info().Str("sender", msg.Sender).Str("message", msg.Message).Msg("chat")
		},
		OnEvent: func(ev proto.OutboundRaw) {
			if ev.Type == proto.OutboundTypeCallEnded {
				select {
				case ended <- ev.Type:
				default:
				}
			}
		},
	}
	session, err := peer.NewSession(sig, cfg, logger)
	if err != nil {
		return err
	}
	if err := session.Join(ctx); err != nil {
		return err
	}

	var shareTimer <-chan time.Time
	if opts.shareAfter > 0 {
		shareTimer = time.After(opts.shareAfter)
	}
	deadline := time.After(opts.duration)

	reason := ""
	for reason == "" {
		select {
		case <-ctx.Done():
			reason = "interrupted"
		case <-deadline:
			reason = "duration elapsed"
		case <-ended:
			reason = "remote hangup"
		case <-session.Done():
			reason = "signaling closed"
		case <-shareTimer:
			if err := session.StartScreenShare(ctx); err != nil {
				logger.Warn().Err(err).Msg("screen share")
			}
		}
	}
	logger.Info().Str("reason", reason).Msg("leaving")

	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelLeave()
	_ = session.Leave(leaveCtx)
	if reason != "remote hangup" {
		if err := sig.Send(leaveCtx, proto.InboundTypeEndCall, proto.CallRefData{CallID: call.CallID}); err != nil {
			logger.Warn().Err(err).Msg("end-call not sent")
		}
	}
	return nil
}

// establish places or answers a call and returns it once accepted.
func establish(ctx context.Context, sig *peer.WSSignaler, opts options, logger *zerolog.Logger) (proto.CallRefData, error) {
	if opts.call != "" {
		if err := sig.Send(ctx, proto.InboundTypeInitiateCall, proto.InitiateCallData{CalleeID: opts.call}); err != nil {
			return proto.CallRefData{}, err
		}
	} else {
		logger.Info().Msg("waiting for an incoming call")
	}

	for {
		select {
		case <-ctx.Done():
			return proto.CallRefData{}, ctx.Err()
		case ev, ok := <-sig.Events():
			if !ok {
				return proto.CallRefData{}, errors.New("signaling closed")
			}
			if ev.Error != nil {
				return proto.CallRefData{}, fmt.Errorf("%s: %s", ev.Error.Code, ev.Error.Msg)
			}
			ref, done, err := onCallEvent(ctx, sig, ev, opts, logger)
			if err != nil || done {
				return ref, err
			}
		}
	}
}

func onCallEvent(ctx context.Context, sig *peer.WSSignaler, ev proto.OutboundRaw, opts options, logger *zerolog.Logger) (proto.CallRefData, bool, error) {
	switch ev.Type {
	case proto.OutboundTypeCallRinging:
		var data proto.EventCallRinging
		if err := decodeEvent(ev, &data); err != nil {
			return proto.CallRefData{}, false, err
		}
		logger.Info().Str("call_id", data.CallID).Str("callee", data.CalleeID).Msg("ringing")
	case proto.OutboundTypeCallAccepted:
		var data proto.EventCallAccepted
		if err := decodeEvent(ev, &data); err != nil {
			return proto.CallRefData{}, false, err
		}
		return proto.CallRefData{CallID: data.CallID, RoomID: data.RoomID}, true, nil
	case proto.OutboundTypeIncomingCall:
		if opts.call != "" {
			return proto.CallRefData{}, false, nil
		}
		var data proto.EventIncomingCall
		if err := decodeEvent(ev, &data); err != nil {
			return proto.CallRefData{}, false, err
		}
		logger.Info().Str("call_id", data.CallID).Str("caller", data.CallerID).Msg("answering")
		if err := sig.Send(ctx, proto.InboundTypeAcceptCall, proto.CallRefData{CallID: data.CallID}); err != nil {
			return proto.CallRefData{}, false, err
		}
		return proto.CallRefData{CallID: data.CallID, RoomID: data.RoomID}, true, nil
	case proto.OutboundTypeCalleeOffline, proto.OutboundTypeCallRejected, proto.OutboundTypeCallTimeout,
		proto.OutboundTypeCallCanceled, proto.OutboundTypeCallTooLate:
		return proto.CallRefData{}, false, fmt.Errorf("call not established: %s", ev.Type)
	}
	return proto.CallRefData{}, false, nil
}

func decodeEvent(ev proto.OutboundRaw, v any) error {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
