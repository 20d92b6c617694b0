package providers

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/syncwave/relay/src/hub"
	"github.com/syncwave/relay/src/service"
	"github.com/syncwave/relay/src/types"
)

const (
	transportLongPoll = "long-poll"
	maxPollBacklog    = 512
)

var (
	ErrPollSessionNotFound = errors.New("poll session not found")
	errPollClosed          = errors.New("poll session closed")
	errPollBacklog         = errors.New("poll backlog full")
)

// pollConn buffers outbound frames until the client collects them. Inbound
// frames never pass through it; they go straight to the service.
type pollConn struct {
	mu       sync.Mutex
	frames   [][]byte
	notify   chan struct{}
	done     chan struct{}
	closed   bool
	lastSeen time.Time
}

func newPollConn(now time.Time) *pollConn {
	return &pollConn{
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		lastSeen: now,
	}
}

// ReadMessage blocks until the session closes.
func (p *pollConn) ReadMessage() ([]byte, error) {
	<-p.done
	return nil, io.EOF
}

func (p *pollConn) WriteMessage(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPollClosed
	}
	if len(p.frames) >= maxPollBacklog {
		return errPollBacklog
	}
	p.frames = append(p.frames, data)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *pollConn) Ping() error { return nil }

func (p *pollConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *pollConn) touch(now time.Time) {
	p.mu.Lock()
	p.lastSeen = now
	p.mu.Unlock()
}

func (p *pollConn) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *pollConn) take() ([][]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.frames
	p.frames = nil
	return frames, p.closed
}

// wait returns queued frames, blocking up to timeout for the first one.
func (p *pollConn) wait(timeout time.Duration) ([][]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		frames, closed := p.take()
		if len(frames) > 0 {
			return frames, nil
		}
		if closed {
			return nil, errPollClosed
		}
		select {
		case <-p.notify:
		case <-p.done:
		case <-timer.C:
			return nil, nil
		}
	}
}

type pollSession struct {
	client *hub.Client
	conn   *pollConn
}

// pollSessions is the long-poll fallback for clients that cannot hold a
// WebSocket. Each session is a hub client whose writes are buffered for
// the next GET.
type pollSessions struct {
	hub     *hub.Hub
	service *service.Service
	wait    time.Duration
	idle    time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*pollSession

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newPollSessions(h *hub.Hub, svc *service.Service, wait, idle time.Duration, logger zerolog.Logger) *pollSessions {
	p := &pollSessions{
		hub:      h,
		service:  svc,
		wait:     wait,
		idle:     idle,
		logger:   logger.With().Str("component", "long-poll").Logger(),
		now:      time.Now,
		sessions: make(map[string]*pollSession),
		stop:     make(chan struct{}),
	}
	svc.OnDisconnection(p.forget)
	return p
}

// open registers a new long-poll client and returns its id.
func (p *pollSessions) open(identity types.Identity) (string, error) {
	id := uuid.New().String()
	conn := newPollConn(p.now())
	client := hub.NewClient(id, conn, p.hub).WithIdentity(identity).WithTransport(transportLongPoll)

	p.mu.Lock()
	p.sessions[id] = &pollSession{client: client, conn: conn}
	p.mu.Unlock()

	if !p.hub.Register(client) {
		p.forget(id)
		return "", service.ErrStopped
	}
	go client.WritePump()
	return id, nil
}

func (p *pollSessions) lookup(id string) (*pollSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, ErrPollSessionNotFound
	}
	s.conn.touch(p.now())
	return s, nil
}

// send dispatches one inbound frame for session id.
func (p *pollSessions) send(id string, raw []byte) error {
	if _, err := p.lookup(id); err != nil {
		return err
	}
	return p.service.Dispatch(id, raw)
}

// receive waits for outbound frames for session id.
func (p *pollSessions) receive(id string) ([][]byte, error) {
	s, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	frames, err := s.conn.wait(p.wait)
	s.conn.touch(p.now())
	if errors.Is(err, errPollClosed) {
		_ = p.close(id)
		return nil, ErrPollSessionNotFound
	}
	return frames, err
}

// close ends session id as if its transport dropped.
func (p *pollSessions) close(id string) error {
	p.mu.Lock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if !ok {
		return ErrPollSessionNotFound
	}
	p.hub.Unregister(s.client)
	return nil
}

// forget drops the session record. It runs on the hub loop as a
// disconnection callback and must not call into the hub.
func (p *pollSessions) forget(id string) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
}

// reap unregisters sessions idle for longer than the idle timeout.
func (p *pollSessions) reap() int {
	cutoff := p.now().Add(-p.idle)

	p.mu.Lock()
	var stale []*pollSession
	for id, s := range p.sessions {
		if s.conn.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(p.sessions, id)
		}
	}
	p.mu.Unlock()

	for _, s := range stale {
		p.logger.Info().Str("client_id", s.client.ID).Msg("reaping idle poll session")
		p.hub.Unregister(s.client)
	}
	return len(stale)
}

func (p *pollSessions) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *pollSessions) start() {
	interval := p.idle / 2
	if interval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.reap()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *pollSessions) shutdown() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
