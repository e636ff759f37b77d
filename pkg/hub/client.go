package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Commands are small JSON objects.
	maxMessageSize = 4 * 1024

	commandTimeout = 15 * time.Second
)

// Client is one calling-interface websocket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// send is owned by the hub and closed when the client is dropped.
	send chan []byte

	// reply carries answers to this client's own commands.
	reply chan []byte
}

// NewClient creates a client and registers it with the hub. It returns nil
// when the hub is no longer running.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		reply: make(chan []byte, 8),
	}
	select {
	case hub.register <- client:
		return client
	case <-hub.quit:
		return nil
	}
}

// Run starts the client's pumps and blocks until the connection closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump reads commands until the connection closes, then unregisters.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.command(data)
	}
}

func (c *Client) command(data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		c.replyError("", "invalid command: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ev, err := c.hub.handle(ctx, cmd)
	if err != nil {
		c.hub.log.Warn("command failed", "command", cmd.Event, "error", err)
		c.replyError(cmd.CallSID, err.Error())
		return
	}
	if ev != nil {
		c.hub.Publish(*ev)
	}
}

func (c *Client) replyError(callSID, msg string) {
	data, err := json.Marshal(Event{Event: EventCallError, CallSID: callSID, Error: msg, Time: c.hub.now()})
	if err != nil {
		return
	}
	select {
	case c.reply <- data:
	default:
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub dropped us.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case data := <-c.reply:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve runs a client for conn until it disconnects. It is meant to be
// wrapped with websocket.New as a fiber handler.
func (h *Hub) Serve(conn *websocket.Conn) {
	client := NewClient(h, conn)
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}
