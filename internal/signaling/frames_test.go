package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosimio/cosim/internal/models"
)

func TestRoomFrameSinkBroadcastsMarshaledFrame(t *testing.T) {
	room := newTestRoom()
	viewer := newTestClient("viewer-1", models.RoleViewer, room)
	require.NoError(t, room.Register(viewer))
	time.Sleep(10 * time.Millisecond)

	sink := RoomFrameSink{Room: room}
	frame := models.Frame{SessionID: "sess-1", Generation: 2, Counter: 7, Encoding: models.EncodingJPEG}

	require.NoError(t, sink.PublishFrame(frame))

	select {
	case msg := <-viewer.Send:
		var decoded models.Frame
		require.NoError(t, json.Unmarshal(msg, &decoded))
		assert.Equal(t, frame.SessionID, decoded.SessionID)
		assert.Equal(t, frame.Counter, decoded.Counter)
	case <-time.After(time.Second):
		t.Fatal("expected viewer to receive the published frame")
	}
}
