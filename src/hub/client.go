package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/syncwave/relay/src/types"
)

// Client wraps a transport connection and manages message flow.
type Client struct {
	ID          string
	conn        types.Conn
	hub         *Hub
	Send        chan types.Message
	identity    types.Identity
	transport   string
	connectedAt time.Time
	chat        *window
	mu          sync.Mutex
	done        chan struct{}
	closed      bool
}

// NewClient creates a new client wrapper.
func NewClient(id string, conn types.Conn, h *Hub) *Client {
	return &Client{
		ID:          id,
		conn:        conn,
		hub:         h,
		Send:        make(chan types.Message, h.sendBuffer),
		transport:   "websocket",
		connectedAt: time.Now(),
		chat:        newWindow(h.chatBurst, h.chatWindow),
		done:        make(chan struct{}),
	}
}

// WithIdentity sets the identity used when a join omits user id or name.
// Call before Register.
func (c *Client) WithIdentity(id types.Identity) *Client {
	c.identity = id
	return c
}

// WithTransport labels the client with the transport it arrived on.
func (c *Client) WithTransport(name string) *Client {
	c.transport = name
	return c
}

// ReadPump reads frames from the connection and routes decoded events to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := types.DecodeEvent(raw)
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("client_id", c.ID).Msg("dropping inbound frame")
			continue
		}
		if !c.hub.Dispatch(c.ID, ev) {
			return
		}
	}
}

// WritePump writes queued messages to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	var tick <-chan time.Time
	if c.hub.pingPeriod > 0 {
		ticker := time.NewTicker(c.hub.pingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			data, err := msg.Encode()
			if err != nil {
				c.hub.logger.Error().Err(err).Str("event", msg.Event).Msg("encode failed")
				continue
			}
			if err := c.conn.WriteMessage(data); err != nil {
				return
			}
		case <-tick:
			if err := c.conn.Ping(); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// deliver queues msg without blocking. A full queue drops the message.
func (c *Client) deliver(msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.Send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close signals the client to stop its pumps.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.Send)
	}
}
