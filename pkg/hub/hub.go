package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/realtime"
	"github.com/teslashibe/go-callbridge/pkg/session"
)

// Handler executes client commands. The returned event, if any, is
// broadcast; an error is reported to the sending client as call_error.
type Handler interface {
	HandleCommand(ctx context.Context, cmd Command) (*Event, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (*Event, error)

func (f HandlerFunc) HandleCommand(ctx context.Context, cmd Command) (*Event, error) {
	return f(ctx, cmd)
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Run owns the client set; everything else talks to it over channels.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}

	// Client count, readable from outside Run.
	mu    sync.RWMutex
	count int

	handler atomic.Pointer[Handler]
	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub. Call Run before registering clients.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = log.L()
	}
	return &Hub{
		log:        logger.With("component", "hub"),
		now:        time.Now,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// SetHandler installs the command handler. Without one, commands are
// answered with call_error.
func (h *Hub) SetHandler(handler Handler) {
	h.handler.Store(&handler)
}

// Run is the hub's main loop. It returns when ctx ends, closing every client.
// Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)
	defer close(h.quit)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.Debug("client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Debug("client disconnected", "clients", len(h.clients))
			}

		case data := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client: its buffer is full.
					h.drop(client)
					h.log.Warn("dropped slow client", "clients", len(h.clients))
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Broadcast queues data for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.log.Warn("broadcast queue full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts v.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Publish stamps and broadcasts a status event.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	if err := h.BroadcastJSON(ev); err != nil {
		h.log.Error("encode event", "event", ev.Event, "error", err)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped returns the number of broadcasts lost to a full queue.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool { return h.running.Load() }

var errNoHandler = errors.New("hub: no command handler")

func (h *Hub) handle(ctx context.Context, cmd Command) (*Event, error) {
	p := h.handler.Load()
	if p == nil {
		return nil, errNoHandler
	}
	return (*p).HandleCommand(ctx, cmd)
}

// Bridge observer methods. Calls are reported to the calling interface as
// session_state, transcript and call_ended events.

func (h *Hub) StateChanged(snap session.Snapshot, from, to session.State) {
	if to == session.Ended {
		return
	}
	if from == session.Ringing && to == session.Connected {
		h.Publish(Event{
			Event:     EventMediaStreamConnected,
			SessionID: snap.ID,
			CallSID:   snap.CallSID,
			StreamSID: snap.StreamSID,
		})
	}
	h.Publish(Event{
		Event:     EventSessionState,
		SessionID: snap.ID,
		CallSID:   snap.CallSID,
		From:      from.String(),
		State:     to.String(),
	})
}

func (h *Hub) Transcript(sessionID string, role realtime.Role, text string, final bool) {
	if !final {
		return
	}
	h.Publish(Event{Event: EventTranscript, SessionID: sessionID, Role: string(role), Text: text, Final: true})
}

func (h *Hub) ResponseDone(string, string, string) {}

func (h *Hub) Ended(snap session.Snapshot, err error) {
	ev := Event{
		Event:     EventCallEnded,
		SessionID: snap.ID,
		CallSID:   snap.CallSID,
		StreamSID: snap.StreamSID,
		Reason:    string(snap.Reason),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Publish(ev)
}
