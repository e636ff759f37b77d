package server

import (
	"context"
	"net/url"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fws "github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-callbridge/pkg/hub"
	"github.com/teslashibe/go-callbridge/pkg/metrics"
	"github.com/teslashibe/go-callbridge/pkg/registry"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

// Register installs every route on app.
func (s *Server) Register(app *fiber.App) {
	// Carrier webhooks
	app.Post("/incoming-call", s.handleIncomingCall)
	app.Post("/call-status", s.handleCallStatus)
	app.Post("/make-call", s.handleMakeCall)

	// WebSockets
	app.Use("/media-stream", requireUpgrade)
	app.Get("/media-stream", websocket.New(s.handleMediaStream))
	app.Use("/ws", requireUpgrade)
	app.Get("/ws/calls", fws.New(s.cfg.Hub.Serve))

	api := app.Group("/api")
	api.Get("/calls", s.handleListCalls)
	api.Get("/calls/:id", s.handleGetCall)
	api.Post("/calls/:id/hangup", s.handleHangup)

	app.Get("/health", s.handleHealth)
	if s.cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(s.cfg.Gatherer)))
	}
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func jsonError(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

// handleIncomingCall answers the carrier's voice webhook with TwiML that
// connects the call to the media stream.
func (s *Server) handleIncomingCall(c *fiber.Ctx) error {
	form, _ := url.ParseQuery(string(c.Body()))
	params := map[string]string{"direction": "inbound"}
	if from := form.Get("From"); from != "" {
		params["from"] = from
	}

	twiml, err := twilio.ConnectStream(s.cfg.MediaStreamURL, s.cfg.Greeting, params)
	if err != nil {
		return err
	}
	s.log.Info("incoming call", "call_sid", form.Get("CallSid"), "from", form.Get("From"))

	c.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return c.SendString(twiml)
}

// handleCallStatus relays carrier call progress to the calling interface.
// A terminal status also ends a bridge that is somehow still running.
func (s *Server) handleCallStatus(c *fiber.Ctx) error {
	form, err := url.ParseQuery(string(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("malformed form body")
	}
	update := twilio.ParseStatusUpdate(form)
	s.log.Debug("call status", "call_sid", update.CallSID, "status", update.CallStatus)

	s.cfg.Hub.Publish(hub.Event{
		Event:   hub.EventCallStatus,
		CallSID: update.CallSID,
		To:      update.To,
		Status:  update.CallStatus,
	})

	if update.Final() {
		if b, ok := s.cfg.Registry.ByCallSID(update.CallSID); ok {
			b.Hangup(session.ReasonCallerHangup)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleMakeCall(c *fiber.Ctx) error {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.PhoneNumber == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "phoneNumber is required"})
	}

	call, err := s.PlaceCall(c.UserContext(), req.PhoneNumber)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(fiber.Map{"callSid": call.SID, "status": call.Status})
}

// handleMediaStream serves one carrier media stream for the life of the call.
func (s *Server) handleMediaStream(conn *websocket.Conn) {
	stream := twilio.NewStream(conn)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(s.cfg.BaseContext, s.cfg.StartTimeout)
	start, err := stream.AwaitStart(ctx)
	cancel()
	if err != nil {
		s.log.Warn("media stream did not start", "error", err)
		return
	}

	b, err := s.cfg.Registry.Start(s.cfg.BaseContext, stream, start)
	if err != nil {
		s.log.Warn("media stream rejected", "stream_sid", start.StreamSID, "error", err)
		return
	}

	// The handler owns the socket; returning closes it.
	<-b.Done()
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	calls := s.cfg.Registry.List()
	return c.JSON(fiber.Map{
		"calls": calls,
		"count": len(calls),
	})
}

func (s *Server) handleGetCall(c *fiber.Ctx) error {
	b, ok := s.cfg.Registry.Get(c.Params("id"))
	if !ok {
		return jsonError(c, registry.ErrNotFound)
	}
	return c.JSON(registry.Info{Snapshot: b.Session().Snapshot(), Stats: b.Stats()})
}

func (s *Server) handleHangup(c *fiber.Ctx) error {
	var req struct {
		Reason session.TerminationReason `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	if req.Reason == "" {
		req.Reason = session.ReasonServerShutdown
	}

	id := c.Params("id")
	if err := s.cfg.Registry.Hangup(id, req.Reason); err != nil {
		return jsonError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "hanging_up", "id": id})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status, code := "ok", fiber.StatusOK
	if s.cfg.Registry.Draining() {
		status, code = "draining", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"version":  s.cfg.Version,
		"calls":    s.cfg.Registry.Count(),
		"clients":  s.cfg.Hub.ClientCount(),
		"outbound": s.cfg.Calls != nil,
	})
}
