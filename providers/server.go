package providers

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/syncwave/relay/config"
	"github.com/syncwave/relay/src/hub"
	"github.com/syncwave/relay/src/mirror"
	"github.com/syncwave/relay/src/service"
	"github.com/syncwave/relay/src/types"
	"github.com/valyala/fasthttp"
)

// snapshotReader returns the last mirrored playback of a room, which may
// outlive the room on this instance.
type snapshotReader interface {
	Snapshot(ctx context.Context, roomID string) (types.PlaybackState, bool, error)
}

// SocketServer wires the hub, its transports and its mirrors into one
// fasthttp server.
type SocketServer struct {
	active   bool
	cfg      *config.SocketConfig
	logger   zerolog.Logger
	hub      *hub.Hub
	service  *service.Service
	identity *IdentityVerifier
	polls    *pollSessions
	mirror   *mirror.Async
	history  *mirror.History
	snapshot snapshotReader
	app      *fiber.App
	server   *fasthttp.Server
	started  time.Time
}

// NewSocketServer creates a server instance. Call Activate before serving.
func NewSocketServer(cfg *config.SocketConfig, logger zerolog.Logger) *SocketServer {
	return &SocketServer{cfg: cfg, logger: logger}
}

// Activate initializes the hub, service and mirrors, and starts the event loop.
func (s *SocketServer) Activate(ctx context.Context) error {
	if s.active {
		return errors.New("socket server already active")
	}
	s.hub = hub.New(s.logger,
		hub.WithSendBuffer(s.cfg.SendBuffer),
		hub.WithPingPeriod(s.cfg.PingInterval),
		hub.WithChatLimit(s.cfg.ChatBurst, s.cfg.ChatWindow),
	)
	s.service = service.New(s.hub, s.logger)
	s.identity = NewIdentityVerifier(s.cfg.JWTSecret)

	go s.hub.Run()

	// Mirrors are optional; the relay runs standalone without them.
	s.initMirror(ctx)

	s.polls = newPollSessions(s.hub, s.service, s.cfg.Poll.Wait, s.cfg.Poll.IdleTimeout, s.logger)
	s.polls.start()

	s.app = s.newApp()
	s.server = &fasthttp.Server{
		Handler:            s.Handler(),
		Name:               "syncwave-relay",
		MaxRequestBodySize: int(s.cfg.ReadLimit),
	}
	s.started = time.Now()
	s.active = true
	s.logger.Info().Str("addr", s.cfg.Addr()).Msg("socket server activated")
	return nil
}

// initMirror opens the configured sinks. A sink that fails to open is
// logged and skipped.
func (s *SocketServer) initMirror(ctx context.Context) {
	var sinks []mirror.Sink

	if path := s.cfg.History.Path; path != "" {
		hist, err := mirror.OpenHistory(path)
		if err == nil {
			if err = hist.Migrate(ctx); err != nil {
				_ = hist.Close()
			}
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("history unavailable")
		} else {
			s.history = hist
			sinks = append(sinks, hist)
		}
	}

	if s.cfg.Redis.Enabled {
		rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rs, err := mirror.NewRedisSink(rctx, mirror.RedisConfig{
			Addr:        s.cfg.Redis.Addr,
			Password:    s.cfg.Redis.Password,
			DB:          s.cfg.Redis.DB,
			Prefix:      s.cfg.Redis.Prefix,
			PlaybackTTL: s.cfg.Redis.PlaybackTTL,
		}, s.logger)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis mirror unavailable, running standalone")
		} else {
			s.snapshot = rs
			sinks = append(sinks, rs)
		}
	}

	if len(sinks) == 0 {
		return
	}
	s.mirror = mirror.NewAsync(s.logger, s.cfg.MirrorQueue, sinks...)
	s.mirror.Start()
	s.hub.SetMirror(s.mirror)
}

// Handler routes "/ws" to the WebSocket upgrade and everything else to fiber.
func (s *SocketServer) Handler() fasthttp.RequestHandler {
	ws := s.FastHTTPHandler()
	app := s.app.Handler()
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/ws" {
			ws(ctx)
			return
		}
		app(ctx)
	}
}

// ListenAndServe blocks serving on the configured port.
func (s *SocketServer) ListenAndServe() error {
	return s.server.ListenAndServe(s.cfg.Addr())
}

// Serve blocks serving on ln.
func (s *SocketServer) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections, closes every client and drains the mirrors.
func (s *SocketServer) Shutdown(ctx context.Context) error {
	if !s.active {
		return nil
	}
	s.active = false

	s.polls.shutdown()
	s.hub.Stop()

	var errs []error
	if err := s.server.ShutdownWithContext(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info().Msg("socket server stopped")
	return errors.Join(errs...)
}

// identify resolves an optional token. Bad tokens fall back to anonymous.
func (s *SocketServer) identify(token string) types.Identity {
	id, err := s.identity.Identify(token)
	if err != nil {
		s.logger.Debug().Err(err).Msg("ignoring invalid identity token")
	}
	return id
}
