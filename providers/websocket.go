package providers

import (
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/syncwave/relay/src/hub"
	"github.com/valyala/fasthttp"
)

func (s *SocketServer) newUpgrader() *websocket.FastHTTPUpgrader {
	return &websocket.FastHTTPUpgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits the configured origin, or any origin when it is "*".
// Requests without an Origin header are not from browsers and pass.
func (s *SocketServer) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" || s.cfg.AllowedOrigin == "*" {
		return true
	}
	return origin == s.cfg.AllowedOrigin
}

// FastHTTPHandler returns a raw fasthttp handler for WebSocket upgrades.
// Register this on the fasthttp server at the "/ws" path.
func (s *SocketServer) FastHTTPHandler() fasthttp.RequestHandler {
	upgrader := s.newUpgrader()
	return func(ctx *fasthttp.RequestCtx) {
		if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}
		if s.cfg.MaxConnections > 0 && s.hub.ClientCount() >= s.cfg.MaxConnections {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"capacity","message":"too many connections"}`)
			return
		}

		identity := s.identify(string(ctx.QueryArgs().Peek("token")))
		clientID := uuid.New().String()
		h := s.hub

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client := hub.NewClient(clientID, s.wrapConn(conn), h).WithIdentity(identity)
			if !h.Register(client) {
				_ = conn.Close()
				return
			}
			go client.WritePump()
			client.ReadPump()
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("websocket upgrade failed")
		}
	}
}

func (s *SocketServer) wrapConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:         conn,
		pongWait:     s.cfg.PongWait,
		writeTimeout: s.cfg.WriteTimeout,
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	return c
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn         *websocket.Conn
	pongWait     time.Duration
	writeTimeout time.Duration
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Ping() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

func (w *wsConn) Close() error { return w.conn.Close() }
