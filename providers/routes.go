package providers

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/syncwave/relay/src/service"
	"github.com/syncwave/relay/src/types"
)

const maxHistoryLimit = 500

func (s *SocketServer) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:     "syncwave-relay",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{s.cfg.AllowedOrigin},
		AllowMethods: []string{fiber.MethodGet, fiber.MethodPost, fiber.MethodDelete, fiber.MethodOptions},
	}))
	s.RegisterRoutes(app)
	return app
}

// RegisterRoutes registers the HTTP routes. The WebSocket upgrade itself is
// served by FastHTTPHandler since it needs the raw request context.
func (s *SocketServer) RegisterRoutes(r fiber.Router) {
	r.Get("/api/health", s.handleHealth)
	r.Get("/ws/info", s.handleInfo)

	r.Get("/api/rooms", s.handleRooms)
	r.Get("/api/rooms/:id", s.handleRoom)
	r.Get("/api/rooms/:id/history", s.handleHistory)

	r.Post("/poll", s.handlePollOpen)
	r.Post("/poll/:id", s.handlePollSend)
	r.Get("/poll/:id", s.handlePollReceive)
	r.Delete("/poll/:id", s.handlePollClose)
}

func errorJSON(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func (s *SocketServer) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *SocketServer) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  "/ws",
		"poll":      "/poll",
		"clients":   s.hub.ClientCount(),
		"rooms":     len(s.service.Rooms()),
		"history":   s.history != nil,
	})
}

type roomSummary struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (s *SocketServer) handleRooms(c fiber.Ctx) error {
	rooms := s.service.Rooms()
	out := make([]roomSummary, 0, len(rooms))
	for id, n := range rooms {
		out = append(out, roomSummary{ID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(fiber.Map{"rooms": out})
}

func (s *SocketServer) handleRoom(c fiber.Ctx) error {
	roomID := c.Params("id")
	room, err := s.service.Room(roomID)
	if err == nil {
		return c.JSON(room)
	}
	if s.snapshot != nil {
		st, ok, serr := s.snapshot.Snapshot(c.Context(), roomID)
		if serr != nil {
			s.logger.Warn().Err(serr).Str("room", roomID).Msg("snapshot read failed")
		}
		if ok {
			return c.JSON(types.RoomInfo{ID: roomID, Playback: &st})
		}
	}
	return errorJSON(c, fiber.StatusNotFound, "room_not_found", err.Error())
}

func (s *SocketServer) handleHistory(c fiber.Ctx) error {
	if s.history == nil {
		return errorJSON(c, fiber.StatusNotFound, "history_disabled", "history is not enabled")
	}
	roomID := c.Params("id")
	limit := fiber.Query[int](c, "limit", s.cfg.History.Limit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	chat, err := s.history.Chat(c.Context(), roomID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Msg("history read failed")
		return errorJSON(c, fiber.StatusInternalServerError, "history_failed", "could not read history")
	}
	playback, err := s.history.Playback(c.Context(), roomID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("room", roomID).Msg("history read failed")
		return errorJSON(c, fiber.StatusInternalServerError, "history_failed", "could not read history")
	}
	return c.JSON(fiber.Map{
		"roomId":   roomID,
		"chat":     chat,
		"playback": playback,
	})
}

func (s *SocketServer) handlePollOpen(c fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		token = c.Get(fiber.HeaderAuthorization)
	}
	id, err := s.polls.open(s.identify(token))
	if err != nil {
		return errorJSON(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"connectionId": id})
}

func (s *SocketServer) handlePollSend(c fiber.Ctx) error {
	err := s.polls.send(c.Params("id"), bytes.Clone(c.Body()))
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, ErrPollSessionNotFound):
		return errorJSON(c, fiber.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, types.ErrMalformedEvent), errors.Is(err, types.ErrUnknownEvent):
		return errorJSON(c, fiber.StatusBadRequest, "bad_event", err.Error())
	case errors.Is(err, service.ErrStopped):
		return errorJSON(c, fiber.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		return err
	}
}

func (s *SocketServer) handlePollReceive(c fiber.Ctx) error {
	frames, err := s.polls.receive(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "session_not_found", err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(joinFrames(frames))
}

func (s *SocketServer) handlePollClose(c fiber.Ctx) error {
	if err := s.polls.close(c.Params("id")); err != nil {
		return errorJSON(c, fiber.StatusNotFound, "session_not_found", err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// joinFrames renders encoded messages as one JSON array.
func joinFrames(frames [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(frames, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}
