package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/hub"
	"github.com/teslashibe/go-callbridge/pkg/metrics"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/registry"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/twilio"
)

type fakeCalls struct {
	mu      sync.Mutex
	placed  []twilio.CallParams
	hungUp  []string
	makeErr error
}

func (f *fakeCalls) MakeCall(_ context.Context, p twilio.CallParams) (*twilio.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.makeErr != nil {
		return nil, f.makeErr
	}
	f.placed = append(f.placed, p)
	return &twilio.Call{SID: "CA100", To: p.To, Status: "queued"}, nil
}

func (f *fakeCalls) HangupCall(_ context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungUp = append(f.hungUp, callSID)
	return nil
}

type harness struct {
	srv   *Server
	app   *fiber.App
	reg   *registry.Registry
	hub   *hub.Hub
	calls *fakeCalls
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	promReg := prometheus.NewRegistry()
	col, err := metrics.New(promReg)
	require.NoError(t, err)

	h := hub.New(log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	bcfg := bridge.DefaultConfig()
	bcfg.Logger = log.Discard()
	bcfg.TickInterval = 5 * time.Millisecond
	bcfg.Observer = bridge.Observers{h, col.Observer()}

	reg := registry.New(registry.Config{
		Logger:      log.Discard(),
		NewProvider: func() (realtime.Provider, error) { return realtime.NewMock(), nil },
		Bridge:      bcfg,
		CallMetrics: func() bridge.Metrics { return col.Call() },
		Active:      col.Active,
	})

	calls := &fakeCalls{}
	srv, err := New(Config{
		Logger:         log.Discard(),
		Version:        "test",
		Registry:       reg,
		Hub:            h,
		Calls:          calls,
		MediaStreamURL: "wss://bridge.example.com/media-stream",
		StartTimeout:   time.Second,
		Gatherer:       promReg,
	})
	require.NoError(t, err)
	h.SetHandler(srv)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	srv.Register(app)

	t.Cleanup(func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer dcancel()
		_ = reg.Drain(dctx)
		cancel()
	})
	return &harness{srv: srv, app: app, reg: reg, hub: h, calls: calls}
}

func (h *harness) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go h.app.Listener(ln)
	t.Cleanup(func() { _ = h.app.Shutdown() })
	return ln.Addr().String()
}

func (h *harness) do(t *testing.T, method, path, contentType, body string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.app.Test(req, 2000)
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Registry: registry.New(registry.Config{}), Hub: hub.New(nil)})
	assert.Error(t, err, "media stream URL is required")
}

func TestIncomingCall(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, "POST", "/incoming-call", fiber.MIMEApplicationForm, "CallSid=CA1&From=%2B15550100")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/xml")
	assert.Contains(t, body, `<Stream url="wss://bridge.example.com/media-stream">`)
	assert.Contains(t, body, `<Parameter name="direction" value="inbound">`)
	assert.Contains(t, body, `<Parameter name="from" value="+15550100">`)
}

func TestMakeCall(t *testing.T) {
	h := newHarness(t)

	t.Run("placed", func(t *testing.T) {
		resp, body := h.do(t, "POST", "/make-call", fiber.MIMEApplicationJSON, `{"phoneNumber":"+15550100"}`)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, body)

		var out struct {
			CallSID string `json:"callSid"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &out))
		assert.Equal(t, "CA100", out.CallSID)

		h.calls.mu.Lock()
		defer h.calls.mu.Unlock()
		require.Len(t, h.calls.placed, 1)
		assert.Contains(t, h.calls.placed[0].Twiml, "wss://bridge.example.com/media-stream")
		assert.Contains(t, h.calls.placed[0].Twiml, `value="outbound"`)
	})

	t.Run("missing number", func(t *testing.T) {
		resp, _ := h.do(t, "POST", "/make-call", fiber.MIMEApplicationJSON, `{}`)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	errCases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid number", twilio.ErrInvalidNumber, fiber.StatusBadRequest},
		{"rate limited", twilio.ErrRateLimited, fiber.StatusTooManyRequests},
		{"carrier error", &twilio.Error{Code: 21211, Message: "bad To", Status: 400}, fiber.StatusBadGateway},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			h.calls.mu.Lock()
			h.calls.makeErr = tc.err
			h.calls.mu.Unlock()
			defer func() {
				h.calls.mu.Lock()
				h.calls.makeErr = nil
				h.calls.mu.Unlock()
			}()

			resp, _ := h.do(t, "POST", "/make-call", fiber.MIMEApplicationJSON, `{"phoneNumber":"+15550100"}`)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestMakeCall_Disabled(t *testing.T) {
	h := newHarness(t)
	h.srv.cfg.Calls = nil

	resp, _ := h.do(t, "POST", "/make-call", fiber.MIMEApplicationJSON, `{"phoneNumber":"+15550100"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestCallStatus(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, "POST", "/call-status", fiber.MIMEApplicationForm, "CallSid=CA1&CallStatus=ringing")
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestAPI_Empty(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, "GET", "/api/calls", "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"calls":[],"count":0}`, body)

	resp, _ = h.do(t, "GET", "/api/calls/call-404", "", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, "POST", "/api/calls/call-404/hangup", "", "")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, "GET", "/health", "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)

	require.NoError(t, h.reg.Drain(context.Background()))
	resp, body = h.do(t, "GET", "/health", "", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, `"status":"draining"`)
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, "GET", "/metrics", "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "callbridge_calls_active")
}

func TestMediaStreamRequiresUpgrade(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.do(t, "GET", "/media-stream", "", "")
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func sendJSON(t *testing.T, ws *websocket.Conn, msg *twilio.Message) {
	t.Helper()
	data, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestMediaStream_CallLifecycle(t *testing.T) {
	h := newHarness(t)
	addr := h.listen(t)

	events, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws/calls", nil)
	require.NoError(t, err)
	defer events.Close()
	require.Eventually(t, func() bool { return h.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/media-stream", nil)
	require.NoError(t, err)
	defer ws.Close()

	sendJSON(t, ws, &twilio.Message{Event: twilio.EventConnected})
	sendJSON(t, ws, &twilio.Message{
		Event:     twilio.EventStart,
		StreamSID: "MZ1",
		Start: &twilio.Start{
			StreamSID:   "MZ1",
			CallSID:     "CA1",
			MediaFormat: twilio.MediaFormat{Encoding: "audio/x-mulaw", SampleRate: 8000, Channels: 1},
		},
	})

	require.Eventually(t, func() bool {
		b, ok := h.reg.ByCallSID("CA1")
		return ok && b.Session().State() == session.Connected
	}, 2*time.Second, 5*time.Millisecond)

	b, _ := h.reg.ByCallSID("CA1")
	id := b.Session().ID()

	resp, body := h.do(t, "GET", "/api/calls", "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"call_sid":"CA1"`)
	assert.Contains(t, body, `"count":1`)

	resp, body = h.do(t, "GET", "/api/calls/"+id, "", "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"state":"connected"`)

	sendJSON(t, ws, &twilio.Message{Event: twilio.EventStop, StreamSID: "MZ1", Stop: &twilio.Stop{CallSID: "CA1"}})

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Equal(t, session.ReasonCallerHangup, b.Session().Reason())
	require.Eventually(t, func() bool { return h.reg.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	// The calling interface saw the stream connect and the call end.
	seen := map[hub.EventType]hub.Event{}
	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	for seen[hub.EventCallEnded].Event == "" {
		_, data, err := events.ReadMessage()
		require.NoError(t, err)
		var ev hub.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		seen[ev.Event] = ev
	}
	assert.Equal(t, "MZ1", seen[hub.EventMediaStreamConnected].StreamSID)
	assert.Equal(t, "caller_hangup", seen[hub.EventCallEnded].Reason)
}

func TestMediaStream_APIHangup(t *testing.T) {
	h := newHarness(t)
	addr := h.listen(t)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/media-stream", nil)
	require.NoError(t, err)
	defer ws.Close()

	sendJSON(t, ws, &twilio.Message{
		Event:     twilio.EventStart,
		StreamSID: "MZ2",
		Start:     &twilio.Start{StreamSID: "MZ2", CallSID: "CA2"},
	})
	require.Eventually(t, func() bool { return h.reg.Count() == 1 }, 2*time.Second, 5*time.Millisecond)
	b, _ := h.reg.ByStreamSID("MZ2")

	resp, _ := h.do(t, "POST", "/api/calls/"+b.Session().ID()+"/hangup", fiber.MIMEApplicationJSON, `{"reason":"bogus"}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, "POST", "/api/calls/"+b.Session().ID()+"/hangup", "", "")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Equal(t, session.ReasonServerShutdown, b.Session().Reason())

	// The carrier socket is closed once the call ends.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHandleCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("start places a call", func(t *testing.T) {
		ev, err := h.srv.HandleCommand(ctx, hub.Command{Event: hub.CommandStart, PhoneNumber: "+15550100"})
		require.NoError(t, err)
		assert.Nil(t, ev)
		h.calls.mu.Lock()
		assert.Len(t, h.calls.placed, 1)
		h.calls.mu.Unlock()
	})

	t.Run("stop hangs up over REST", func(t *testing.T) {
		_, err := h.srv.HandleCommand(ctx, hub.Command{Event: hub.CommandStop, CallSID: "CA77"})
		require.NoError(t, err)
		h.calls.mu.Lock()
		assert.Equal(t, []string{"CA77"}, h.calls.hungUp)
		h.calls.mu.Unlock()
	})

	t.Run("stop without call sid", func(t *testing.T) {
		_, err := h.srv.HandleCommand(ctx, hub.Command{Event: hub.CommandStop})
		assert.Error(t, err)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := h.srv.HandleCommand(ctx, hub.Command{Event: "dance"})
		assert.Error(t, err)
	})

	t.Run("stop without REST client", func(t *testing.T) {
		h.srv.cfg.Calls = nil
		_, err := h.srv.HandleCommand(ctx, hub.Command{Event: hub.CommandStop, CallSID: "CA404"})
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})
}
