package presence

import (
	"time"

	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/models"
	"watchparty-service/internal/store"
)

// Factory builds engines that share one backend and one bus.
type Factory struct {
	messages     *store.Collection[models.ChatMessage]
	participants *store.Collection[models.Participant]
	bus          broadcast.Bus
	historyLimit int
	now          func() time.Time
}

// Option customises a Factory.
type Option func(*Factory)

// WithHistoryLimit keeps only the newest n messages per room. n <= 0 keeps all.
func WithHistoryLimit(n int) Option {
	return func(f *Factory) { f.historyLimit = n }
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// NewFactory wires engines to backend and bus. onCorrupt may be nil.
func NewFactory(backend store.Backend, bus broadcast.Bus, onCorrupt store.CorruptionHook, opts ...Option) *Factory {
	f := &Factory{
		messages:     store.NewCollection[models.ChatMessage](backend, onCorrupt),
		participants: store.NewCollection[models.Participant](backend, onCorrupt),
		bus:          bus,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Bus returns the bus engines publish on.
func (f *Factory) Bus() broadcast.Bus {
	return f.bus
}

// New returns an Idle engine for userID in roomID.
func (f *Factory) New(roomID, userID, username string) *Engine {
	return &Engine{
		roomID:       roomID,
		userID:       userID,
		username:     username,
		messages:     f.messages,
		participants: f.participants,
		bus:          f.bus,
		historyLimit: f.historyLimit,
		now:          f.now,
	}
}
