package service_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syncwave/relay/src/hub"
	"github.com/syncwave/relay/src/service"
	"github.com/syncwave/relay/src/types"
)

type nopConn struct{}

func (nopConn) ReadMessage() ([]byte, error) { select {} }
func (nopConn) WriteMessage([]byte) error    { return nil }
func (nopConn) Ping() error                  { return nil }
func (nopConn) Close() error                 { return nil }

func newTestService(t *testing.T) (*service.Service, *hub.Hub) {
	t.Helper()
	h := hub.New(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return service.New(h, zerolog.Nop()), h
}

func register(t *testing.T, h *hub.Hub, id string) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, nopConn{}, h)
	require.True(t, h.Register(c))
	return c
}

func TestServiceDispatchJoinsRoom(t *testing.T) {
	svc, h := newTestService(t)
	register(t, h, "c1")

	require.NoError(t, svc.Dispatch("c1", []byte(`{"event":"join-room","data":{"roomId":"lounge","userName":"Ann"}}`)))

	assert.Equal(t, map[string]int{"lounge": 1}, svc.Rooms())
	room, err := svc.Room("lounge")
	require.NoError(t, err)
	require.Len(t, room.Members, 1)
	assert.Equal(t, "Ann", room.Members[0].DisplayName)

	info, err := svc.ClientInfo("c1")
	require.NoError(t, err)
	assert.Equal(t, "lounge", info.RoomID)
}

func TestServiceDispatchRejectsBadFrames(t *testing.T) {
	svc, h := newTestService(t)
	register(t, h, "c1")

	assert.ErrorIs(t, svc.Dispatch("c1", []byte(`{"event":"moonwalk","data":{"roomId":"r"}}`)), types.ErrUnknownEvent)
	assert.ErrorIs(t, svc.Dispatch("c1", []byte(`{"event":"play"}`)), types.ErrMalformedEvent)
	assert.Empty(t, svc.Rooms())
}

func TestServiceDispatchAfterStop(t *testing.T) {
	svc, h := newTestService(t)
	h.Stop()
	assert.ErrorIs(t, svc.Dispatch("c1", []byte(`{"event":"join-room","data":{"roomId":"r"}}`)), service.ErrStopped)
}

func TestServiceUnknownRoomAndClient(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Room("nowhere")
	assert.ErrorIs(t, err, service.ErrRoomNotFound)

	_, err = svc.ClientInfo("ghost")
	assert.ErrorIs(t, err, service.ErrClientNotFound)

	assert.ErrorIs(t, svc.SendToClient("ghost", "notice", nil), service.ErrClientNotFound)
}

func TestServiceSendToClient(t *testing.T) {
	svc, h := newTestService(t)
	c := register(t, h, "c1")

	require.NoError(t, svc.SendToClient("c1", "notice", map[string]any{"text": "maintenance at noon"}))

	msg := <-c.Send
	assert.Equal(t, "notice", msg.Event)
	assert.Equal(t, map[string]any{"text": "maintenance at noon"}, msg.Data)
}

func TestServiceCallbacks(t *testing.T) {
	svc, h := newTestService(t)
	var connected, disconnected []string
	svc.OnConnection(func(id string) { connected = append(connected, id) })
	svc.OnDisconnection(func(id string) { disconnected = append(disconnected, id) })

	c := register(t, h, "c1")
	h.Unregister(c)
	assert.Empty(t, svc.ConnectedClients())

	assert.Equal(t, []string{"c1"}, connected)
	assert.Equal(t, []string{"c1"}, disconnected)
}
