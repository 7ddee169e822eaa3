package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/cosimio/cosim/internal/models"
)

// RoomFrameSink adapts a Room to simagent.FrameSink, letting the Simulation
// Agent publish frames without this package importing simagent.
type RoomFrameSink struct {
	Room *Room
}

// PublishFrame serializes and broadcasts a Frame to every connected viewer.
func (s RoomFrameSink) PublishFrame(f models.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.Room.Broadcast(data)
	return nil
}
