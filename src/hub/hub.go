package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/syncwave/relay/src/playback"
	"github.com/syncwave/relay/src/registry"
	"github.com/syncwave/relay/src/types"
)

// Mirror receives a copy of room activity for durable storage or other
// processes. Record must not block; the hub never waits on a mirror.
type Mirror interface {
	Record(msg types.Message)
}

// Hub owns every connection, the registry and the playback cache. All of
// them are touched only from Run, one event at a time.
type Hub struct {
	clients  map[string]*Client
	registry *registry.Registry
	playback *playback.Store

	register   chan *Client
	unregister chan *Client
	incoming   chan inbound
	queries    chan func()

	onConnect []func(string)
	onDisconn []func(string)

	mirror Mirror
	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	once   sync.Once

	sendBuffer int
	pingPeriod time.Duration
	chatBurst  int
	chatWindow time.Duration
}

type inbound struct {
	clientID string
	event    types.Event
}

// Option tunes a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingPeriod sets how often idle connections are pinged. Zero disables pings.
func WithPingPeriod(d time.Duration) Option {
	return func(h *Hub) { h.pingPeriod = d }
}

// WithChatLimit allows burst chat messages per window and connection. A zero
// burst disables the limit.
func WithChatLimit(burst int, window time.Duration) Option {
	return func(h *Hub) {
		h.chatBurst = burst
		h.chatWindow = window
	}
}

// New creates a new Hub instance.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		registry:   registry.New(),
		playback:   playback.New(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan inbound),
		queries:    make(chan func()),
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
		sendBuffer: 256,
		pingPeriod: 54 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetMirror attaches a mirror for room activity.
func (h *Hub) SetMirror(m Mirror) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mirror = m
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.incoming:
			h.handleEvent(in.clientID, in.event)
		case fn := <-h.queries:
			fn()
		case <-h.done:
			for _, c := range h.clients {
				c.Close()
			}
			return
		}
	}
}

// Stop halts the hub event loop and closes every client.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Register queues a client for registration. It returns false once the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch hands one decoded event from clientID to the loop.
func (h *Hub) Dispatch(clientID string, ev types.Event) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.incoming <- inbound{clientID: clientID, event: ev}:
		return true
	case <-h.done:
		return false
	}
}

// query runs fn on the loop and waits for it to finish.
func (h *Hub) query(fn func()) bool {
	if h.stopped() {
		return false
	}
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
	case <-h.done:
		return false
	}
	<-finished
	return true
}

func (h *Hub) addClient(c *Client) {
	if _, ok := h.clients[c.ID]; ok {
		h.logger.Warn().Str("client_id", c.ID).Msg("duplicate client id, closing")
		c.Close()
		return
	}
	h.clients[c.ID] = c
	h.registry.Register(registry.Entry{
		ConnectionID: c.ID,
		UserID:       c.identity.UserID,
		DisplayName:  c.identity.DisplayName,
		Transport:    c.transport,
		ConnectedAt:  c.connectedAt,
	})

	h.logger.Info().Str("client_id", c.ID).Str("transport", c.transport).Msg("client registered")

	h.mu.RLock()
	callbacks := h.onConnect
	h.mu.RUnlock()
	for _, cb := range callbacks {
		cb(c.ID)
	}
}

func (h *Hub) removeClient(c *Client) {
	if current, ok := h.clients[c.ID]; !ok || current != c {
		return
	}
	delete(h.clients, c.ID)
	c.Close()

	if entry, ok := h.registry.Remove(c.ID); ok && entry.RoomID != "" {
		h.departed(entry, true)
	}
	h.logger.Info().Str("client_id", c.ID).Msg("client unregistered")

	h.mu.RLock()
	callbacks := h.onDisconn
	h.mu.RUnlock()
	for _, cb := range callbacks {
		cb(c.ID)
	}
}

func (h *Hub) record(msg types.Message) {
	h.mu.RLock()
	m := h.mirror
	h.mu.RUnlock()
	if m != nil {
		m.Record(msg)
	}
}
