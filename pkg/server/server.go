// Package server exposes the bridge over HTTP: the carrier webhooks and
// media stream, the calling-interface socket and a small control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/hub"
	"github.com/teslashibe/go-callbridge/pkg/registry"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// ErrOutboundDisabled is returned when no carrier REST client is configured.
var ErrOutboundDisabled = errors.New("server: outbound calling is not configured")

// Calls is the carrier REST surface the server uses. *twilio.Client
// satisfies it.
type Calls interface {
	MakeCall(ctx context.Context, p twilio.CallParams) (*twilio.Call, error)
	HangupCall(ctx context.Context, callSID string) error
}

// Config configures a Server.
type Config struct {
	Logger  *slog.Logger
	Version string

	Registry *registry.Registry
	Hub      *hub.Hub

	// Calls places and ends calls over REST. Nil disables /make-call and
	// the start command.
	Calls Calls

	// MediaStreamURL is the public wss:// URL of /media-stream.
	MediaStreamURL string

	// Greeting is spoken by the carrier before the stream connects.
	Greeting string

	// StartTimeout bounds the wait for the carrier start event.
	StartTimeout time.Duration

	// Gatherer backs /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer

	// BaseContext is the parent of every call's context.
	BaseContext context.Context
}

// Server holds the route handlers.
type Server struct {
	cfg Config
	log *slog.Logger
}

// New creates a server. Registry and Hub are required.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil || cfg.Hub == nil {
		return nil, errors.New("server: registry and hub are required")
	}
	if cfg.MediaStreamURL == "" {
		return nil, errors.New("server: media stream URL is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.L()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Server{cfg: cfg, log: cfg.Logger.With("component", "server")}, nil
}

// PlaceCall dials number and connects it to the media stream. The outcome
// is published to the hub.
func (s *Server) PlaceCall(ctx context.Context, number string) (*twilio.Call, error) {
	if s.cfg.Calls == nil {
		return nil, ErrOutboundDisabled
	}

	twiml, err := twilio.ConnectStream(s.cfg.MediaStreamURL, "", map[string]string{"direction": "outbound"})
	if err != nil {
		return nil, err
	}

	call, err := s.cfg.Calls.MakeCall(ctx, twilio.CallParams{To: number, Twiml: twiml})
	if err != nil {
		s.log.Warn("place call failed", "to", number, "error", err)
		s.cfg.Hub.Publish(hub.Event{Event: hub.EventCallError, To: number, Error: err.Error()})
		return nil, err
	}

	s.log.Info("call placed", "call_sid", call.SID, "to", call.To)
	s.cfg.Hub.Publish(hub.Event{Event: hub.EventCallPlaced, CallSID: call.SID, To: call.To, Status: call.Status})
	return call, nil
}

// EndCall hangs up the call with callSID: the bridge, if one is live, and
// the phone leg over REST when a client is configured.
func (s *Server) EndCall(ctx context.Context, callSID string) error {
	b, live := s.cfg.Registry.ByCallSID(callSID)
	if live {
		b.Hangup(session.ReasonServerShutdown)
	}

	if s.cfg.Calls == nil {
		if !live {
			return fmt.Errorf("%w: %s", registry.ErrNotFound, callSID)
		}
		return nil
	}
	if err := s.cfg.Calls.HangupCall(ctx, callSID); err != nil && !live {
		return err
	}
	return nil
}

// HandleCommand runs calling-interface commands. It implements hub.Handler.
func (s *Server) HandleCommand(ctx context.Context, cmd hub.Command) (*hub.Event, error) {
	switch cmd.Event {
	case hub.CommandStart:
		// PlaceCall publishes its own outcome.
		if _, err := s.PlaceCall(ctx, cmd.PhoneNumber); err != nil {
			return nil, err
		}
		return nil, nil
	case hub.CommandStop:
		if cmd.CallSID == "" {
			return nil, errors.New("callSid is required")
		}
		return nil, s.EndCall(ctx, cmd.CallSID)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Event)
	}
}

// errorStatus maps an error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, twilio.ErrInvalidNumber), errors.Is(err, session.ErrInvalidReason):
		return fiber.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, twilio.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, ErrOutboundDisabled):
		return fiber.StatusServiceUnavailable
	default:
		var apiErr *twilio.Error
		if errors.As(err, &apiErr) {
			return fiber.StatusBadGateway
		}
		return fiber.StatusInternalServerError
	}
}
