package signaling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimio/cosim/internal/models"
)

func newTestRoom() *Room {
	return NewRoom("room-1", "sess-1", 0, 50*time.Millisecond, func(string) {})
}

func newTestClient(id string, role models.ParticipantRole, room *Room) *Client {
	return &Client{ID: id, RoomID: room.ID, Role: role, Send: make(chan []byte, 8), Room: room}
}

func TestRoomRegisterGrantsBroadcasterWhenSlotFree(t *testing.T) {
	room := newTestRoom()
	c := newTestClient("c1", models.RoleBroadcaster, room)

	require.NoError(t, room.Register(c))
	time.Sleep(10 * time.Millisecond)

	assert.True(t, room.HasBroadcaster())
	assert.Equal(t, models.RoleBroadcaster, c.Role)
}

func TestRoomRegisterRejectsSecondBroadcaster(t *testing.T) {
	room := newTestRoom()
	first := newTestClient("c1", models.RoleBroadcaster, room)
	second := newTestClient("c2", models.RoleBroadcaster, room)

	require.NoError(t, room.Register(first))
	time.Sleep(10 * time.Millisecond)

	err := room.Register(second)
	assert.ErrorIs(t, err, ErrBroadcasterPresent, "a second broadcaster join must be rejected, preserving at-most-one-broadcaster")
	assert.Equal(t, models.RoleBroadcaster, first.Role)
	assert.Equal(t, 1, room.ParticipantCount(), "the rejected client must never be admitted to the room")
}

func TestRoomSendToDeliversOnlyToTarget(t *testing.T) {
	room := newTestRoom()
	a := newTestClient("a", models.RoleViewer, room)
	b := newTestClient("b", models.RoleViewer, room)
	require.NoError(t, room.Register(a))
	require.NoError(t, room.Register(b))
	time.Sleep(10 * time.Millisecond)

	room.SendTo("b", []byte("for-b-only"))

	select {
	case msg := <-b.Send:
		assert.Equal(t, "for-b-only", string(msg))
	case <-time.After(time.Second):
		t.Fatal("expected targeted client to receive the message")
	}

	select {
	case msg := <-a.Send:
		t.Fatalf("expected non-target client to receive nothing, got %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomUnregisterFreesBroadcasterSlot(t *testing.T) {
	room := newTestRoom()
	c := newTestClient("c1", models.RoleBroadcaster, room)

	require.NoError(t, room.Register(c))
	time.Sleep(10 * time.Millisecond)
	require.True(t, room.HasBroadcaster())

	room.Unregister(c)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, room.HasBroadcaster())
	assert.Equal(t, 0, room.ParticipantCount())
}

func TestRoomBroadcastDeliversToAllClients(t *testing.T) {
	room := newTestRoom()
	viewer := newTestClient("viewer-1", models.RoleViewer, room)
	require.NoError(t, room.Register(viewer))
	time.Sleep(10 * time.Millisecond)

	room.Broadcast([]byte("hello"))

	select {
	case msg := <-viewer.Send:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("expected viewer to receive broadcast message")
	}
}
