package presence

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/store"
)

// Control notification types.
const (
	ControlKicked = "kicked"
	ControlEnded  = "ended"
)

// Control tells the sockets of a room to drop a participant or shut down.
type Control struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participantId,omitempty"`
}

// Notify publishes c to every subscriber of the room's control key.
func Notify(ctx context.Context, bus broadcast.Bus, roomID string, c Control) {
	payload, err := json.Marshal(c)
	if err != nil {
		log.Error().Err(err).Msg("encoding room control")
		return
	}
	if err := bus.Publish(ctx, store.ControlKey(roomID), payload); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("type", c.Type).Msg("publishing room control")
	}
}

// WatchControl calls handler for each control notification of roomID until
// the returned func is called.
func WatchControl(bus broadcast.Bus, roomID string, handler func(Control)) func() {
	return bus.Subscribe(store.ControlKey(roomID), func(payload []byte) {
		var c Control
		if err := json.Unmarshal(payload, &c); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("dropping undecodable room control")
			return
		}
		handler(c)
	})
}
