// Package presence keeps a room's participant roster and chat log in shared
// storage and notifies every engine of the room after each committed change.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/models"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/store"
)

var (
	// ErrLeft is returned by room-mutating calls after LeaveRoom.
	ErrLeft = errors.New("presence: engine already left the room")
	// ErrEmptyMessage rejects blank chat messages.
	ErrEmptyMessage = errors.New("presence: message is empty")
)

// State is the lifecycle position of an Engine.
type State int

const (
	Idle State = iota
	Joined
	Left
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joined:
		return "joined"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// snapshot is the payload published on every change of a collection.
type snapshot[T any] struct {
	Version int64 `json:"version"`
	Items   []T   `json:"items"`
}

// Engine is one client's handle on a room. It owns no room state; the log and
// roster live in the store and are shared with every other engine of the room.
type Engine struct {
	roomID   string
	userID   string
	username string

	messages     *store.Collection[models.ChatMessage]
	participants *store.Collection[models.Participant]
	bus          broadcast.Bus
	historyLimit int
	now          func() time.Time

	mu     sync.Mutex
	state  State
	unsubs []func()
}

// RoomID returns the room the engine is bound to.
func (e *Engine) RoomID() string { return e.roomID }

// UserID returns the user the engine acts for.
func (e *Engine) UserID() string { return e.userID }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnMessagesUpdate delivers the current log to handler right away and the full
// log again after every change. Deliveries never go back in version, so each
// log handed to handler extends the previous one. A handler may change the
// room; the snapshot that change produces is delivered after it returns.
func (e *Engine) OnMessagesUpdate(ctx context.Context, handler func([]models.ChatMessage)) {
	subscribe(ctx, e, store.MessagesKey(e.roomID), e.messages, handler)
}

// OnParticipantsUpdate is OnMessagesUpdate for the roster.
func (e *Engine) OnParticipantsUpdate(ctx context.Context, handler func([]models.Participant)) {
	subscribe(ctx, e, store.ParticipantsKey(e.roomID), e.participants, handler)
}

// Messages reads the current log. Storage failures read as an empty log.
func (e *Engine) Messages(ctx context.Context) []models.ChatMessage {
	items, _, err := e.messages.Read(ctx, store.MessagesKey(e.roomID))
	if err != nil {
		log.Warn().Err(err).Str("room_id", e.roomID).Msg("reading chat log")
	}
	if items == nil {
		items = []models.ChatMessage{}
	}
	return items
}

// Participants reads the current roster. Storage failures read as empty.
func (e *Engine) Participants(ctx context.Context) []models.Participant {
	items, _, err := e.participants.Read(ctx, store.ParticipantsKey(e.roomID))
	if err != nil {
		log.Warn().Err(err).Str("room_id", e.roomID).Msg("reading roster")
	}
	if items == nil {
		items = []models.Participant{}
	}
	return items
}

// JoinRoom upserts p into the roster and announces it. A participant already
// present only comes back online; the rest of its entry is kept.
func (e *Engine) JoinRoom(ctx context.Context, p models.Participant) error {
	if err := e.ensureActive(); err != nil {
		return err
	}

	key := store.ParticipantsKey(e.roomID)
	roster, version, err := e.participants.Update(ctx, key, func(items []models.Participant) ([]models.Participant, error) {
		for i := range items {
			if items[i].ID == p.ID {
				items[i].IsOnline = true
				return items, nil
			}
		}
		joined := p
		joined.IsOnline = true
		return append(items, joined), nil
	})
	if err != nil {
		return fmt.Errorf("join room %s: %w", e.roomID, err)
	}

	e.setState(Joined)
	observability.IncRoomEvent("join")

	if err := e.appendMessage(ctx, models.SystemUserID, models.SystemUsername, p.Username+" entrou na sala", models.MessageTypeSystem); err != nil {
		return err
	}
	e.publish(ctx, key, snapshot[models.Participant]{Version: version, Items: roster})
	return nil
}

// SendMessage appends text to the log on behalf of the engine's user.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	if err := e.ensureActive(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if err := e.appendMessage(ctx, e.userID, e.username, text, models.MessageTypeMessage); err != nil {
		return err
	}
	observability.IncRoomEvent("message")
	return nil
}

// LeaveRoom marks the engine's user offline and moves the engine to Left.
// Nothing is announced when the user is not on the roster. Leaving twice is a
// no-op.
func (e *Engine) LeaveRoom(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Left {
		e.mu.Unlock()
		return nil
	}
	e.state = Left
	e.mu.Unlock()

	key := store.ParticipantsKey(e.roomID)
	roster, version, err := e.participants.Update(ctx, key, func(items []models.Participant) ([]models.Participant, error) {
		for i := range items {
			if items[i].ID == e.userID {
				items[i].IsOnline = false
				return items, nil
			}
		}
		return nil, store.ErrNoChange
	})
	if errors.Is(err, store.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave room %s: %w", e.roomID, err)
	}

	observability.IncRoomEvent("leave")
	if err := e.appendMessage(ctx, models.SystemUserID, models.SystemUsername, e.username+" saiu da sala", models.MessageTypeSystem); err != nil {
		return err
	}
	e.publish(ctx, key, snapshot[models.Participant]{Version: version, Items: roster})
	return nil
}

// RemoveParticipant deletes participantID from the roster. Only hosts may
// remove participants; callers enforce that. Unknown ids are ignored.
func (e *Engine) RemoveParticipant(ctx context.Context, participantID string) error {
	if err := e.ensureActive(); err != nil {
		return err
	}

	var removed models.Participant
	key := store.ParticipantsKey(e.roomID)
	roster, version, err := e.participants.Update(ctx, key, func(items []models.Participant) ([]models.Participant, error) {
		for i := range items {
			if items[i].ID == participantID {
				removed = items[i]
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, store.ErrNoChange
	})
	if errors.Is(err, store.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove participant %s: %w", participantID, err)
	}

	observability.IncRoomEvent("remove")
	if err := e.appendMessage(ctx, models.SystemUserID, models.SystemUsername, removed.Username+" foi removido da sala", models.MessageTypeSystem); err != nil {
		return err
	}
	e.publish(ctx, key, snapshot[models.Participant]{Version: version, Items: roster})
	Notify(ctx, e.bus, e.roomID, Control{Type: ControlKicked, ParticipantID: participantID})
	return nil
}

// Cleanup drops every subscription made through this engine. It may be called
// any number of times, in any state.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (e *Engine) appendMessage(ctx context.Context, userID, username, text, kind string) error {
	key := store.MessagesKey(e.roomID)
	msgs, version, err := e.messages.Update(ctx, key, func(items []models.ChatMessage) ([]models.ChatMessage, error) {
		var nextID int64 = 1
		if n := len(items); n > 0 {
			nextID = items[n-1].ID + 1
		}
		items = append(items, models.ChatMessage{
			ID:        nextID,
			UserID:    userID,
			Username:  username,
			Message:   text,
			Timestamp: e.now().UTC().Format(time.RFC3339Nano),
			Type:      kind,
		})
		if e.historyLimit > 0 && len(items) > e.historyLimit {
			items = items[len(items)-e.historyLimit:]
		}
		return items, nil
	})
	if err != nil {
		return fmt.Errorf("append message to room %s: %w", e.roomID, err)
	}
	e.publish(ctx, key, snapshot[models.ChatMessage]{Version: version, Items: msgs})
	return nil
}

// publish reports failures without failing the caller: the change is already
// committed and later snapshots supersede this one.
func (e *Engine) publish(ctx context.Context, key string, snap any) {
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("encoding room snapshot")
		return
	}
	if err := e.bus.Publish(ctx, key, payload); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("broadcasting room snapshot")
	}
}

func (e *Engine) ensureActive() error {
	if e.State() == Left {
		return ErrLeft
	}
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Left {
		e.state = s
	}
}

func (e *Engine) track(unsub func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubs = append(e.unsubs, unsub)
}

func subscribe[T any](ctx context.Context, e *Engine, key string, coll *store.Collection[T], handler func([]T)) {
	var (
		mu       sync.Mutex
		last     = int64(-1)
		pending  [][]T
		draining bool
	)
	// Snapshots queue in version order; whoever finds the queue idle drains it
	// and calls handler with mu released, so a handler may change the room.
	deliver := func(version int64, items []T) {
		mu.Lock()
		if version <= last {
			mu.Unlock()
			return
		}
		last = version
		if items == nil {
			items = []T{}
		}
		pending = append(pending, items)
		if draining {
			mu.Unlock()
			return
		}
		draining = true
		for len(pending) > 0 {
			next := pending[0]
			pending = pending[1:]
			mu.Unlock()
			handler(next)
			mu.Lock()
		}
		draining = false
		mu.Unlock()
	}

	// Subscribe before reading so no change slips between the two.
	e.track(e.bus.Subscribe(key, func(payload []byte) {
		var snap snapshot[T]
		if err := json.Unmarshal(payload, &snap); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("dropping undecodable room snapshot")
			return
		}
		deliver(snap.Version, snap.Items)
	}))

	items, version, err := coll.Read(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("initial room state unavailable")
	}
	deliver(version, items)
}
