package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchparty-service/internal/broadcast"
	"watchparty-service/internal/models"
	"watchparty-service/internal/store"
)

var fixedNow = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	backend *store.MemoryBackend
	bus     *broadcast.LocalBus
	factory *Factory
}

func newFixture(opts ...Option) fixture {
	backend := store.NewMemoryBackend()
	bus := broadcast.NewLocalBus()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return fixture{backend: backend, bus: bus, factory: NewFactory(backend, bus, nil, opts...)}
}

func participant(id, username string) models.Participant {
	return models.Participant{
		ID:       id,
		Username: username,
		Name:     username + " name",
		JoinedAt: fixedNow.Format(time.RFC3339),
		IsOnline: true,
	}
}

// recorder collects every snapshot handed to a handler.
type recorder[T any] struct {
	mu    sync.Mutex
	calls [][]T
}

func (r *recorder[T]) handle(items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, items)
}

func (r *recorder[T]) last() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[len(r.calls)-1]
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestOnMessagesUpdateDeliversEmptyLogImmediately(t *testing.T) {
	f := newFixture()
	e := f.factory.New("r1", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}

	e.OnMessagesUpdate(context.Background(), rec.handle)

	require.Equal(t, 1, rec.count())
	assert.NotNil(t, rec.last())
	assert.Empty(t, rec.last())
}

func TestOnParticipantsUpdateDeliversCurrentRoster(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	host := f.factory.New("r1", "h", "host")
	require.NoError(t, host.JoinRoom(ctx, participant("h", "host")))

	e := f.factory.New("r1", "u1", "alice")
	rec := &recorder[models.Participant]{}
	e.OnParticipantsUpdate(ctx, rec.handle)

	require.Equal(t, 1, rec.count())
	require.Len(t, rec.last(), 1)
	assert.Equal(t, "h", rec.last()[0].ID)
}

func TestSendMessageAppendsToLog(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "U", "alice")
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, e.SendMessage(ctx, text))
	}
	require.Len(t, e.Messages(ctx), 3)

	require.NoError(t, e.SendMessage(ctx, "hi"))

	msgs := e.Messages(ctx)
	require.Len(t, msgs, 4)
	last := msgs[3]
	assert.Equal(t, models.MessageTypeMessage, last.Type)
	assert.Equal(t, "hi", last.Message)
	assert.Equal(t, "U", last.UserID)
	assert.Equal(t, "alice", last.Username)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), last.Timestamp)
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	f := newFixture()
	e := f.factory.New("r1", "U", "alice")

	err := e.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, e.Messages(context.Background()))
}

func TestMessageIDsAreUniqueAndIncreasing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.factory.New("r1", "a", "alice")
	b := f.factory.New("r1", "b", "bob")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, a.SendMessage(ctx, "from a")) }()
		go func() { defer wg.Done(); assert.NoError(t, b.SendMessage(ctx, "from b")) }()
	}
	wg.Wait()

	msgs := a.Messages(ctx)
	require.Len(t, msgs, 40)
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
}

func TestJoinRoomTwiceKeepsSingleRosterEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	p := participant("u1", "alice")

	require.NoError(t, e.JoinRoom(ctx, p))
	require.Len(t, e.Participants(ctx), 1)
	require.Len(t, e.Messages(ctx), 1)

	require.NoError(t, e.JoinRoom(ctx, p))
	assert.Len(t, e.Participants(ctx), 1)

	msgs := e.Messages(ctx)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, models.MessageTypeSystem, m.Type)
		assert.Equal(t, "alice entrou na sala", m.Message)
		assert.Equal(t, models.SystemUserID, m.UserID)
	}
	assert.Equal(t, Joined, e.State())
}

func TestJoinRoomPreservesExistingEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")

	first := participant("u1", "alice")
	first.JoinedAt = "2024-01-01T00:00:00Z"
	require.NoError(t, e.JoinRoom(ctx, first))
	require.NoError(t, e.LeaveRoom(ctx))

	again := f.factory.New("r1", "u1", "alice")
	second := participant("u1", "alice")
	second.JoinedAt = "2024-06-01T00:00:00Z"
	second.Name = "renamed"
	require.NoError(t, again.JoinRoom(ctx, second))

	roster := again.Participants(ctx)
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsOnline)
	assert.Equal(t, "2024-01-01T00:00:00Z", roster[0].JoinedAt)
	assert.Equal(t, "alice name", roster[0].Name)
}

func TestLeaveRoomMarksOffline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	require.NoError(t, e.JoinRoom(ctx, participant("u1", "alice")))

	require.NoError(t, e.LeaveRoom(ctx))

	roster := e.Participants(ctx)
	require.Len(t, roster, 1)
	assert.False(t, roster[0].IsOnline)

	msgs := e.Messages(ctx)
	require.Len(t, msgs, 2)
	assert.Equal(t, "alice saiu da sala", msgs[1].Message)
	assert.Equal(t, Left, e.State())
}

func TestLeaveRoomWithoutRosterEntryIsSilent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")

	require.NoError(t, e.LeaveRoom(ctx))
	assert.Empty(t, e.Messages(ctx))
	assert.Equal(t, Left, e.State())
}

func TestOperationsAfterLeaveFail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	require.NoError(t, e.JoinRoom(ctx, participant("u1", "alice")))
	require.NoError(t, e.LeaveRoom(ctx))

	assert.ErrorIs(t, e.SendMessage(ctx, "hi"), ErrLeft)
	assert.ErrorIs(t, e.JoinRoom(ctx, participant("u1", "alice")), ErrLeft)
	assert.ErrorIs(t, e.RemoveParticipant(ctx, "u1"), ErrLeft)
	assert.NoError(t, e.LeaveRoom(ctx))
	assert.Len(t, e.Messages(ctx), 2)
}

func TestRemoveParticipantDeletesEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	host := f.factory.New("r1", "h", "host")
	guest := f.factory.New("r1", "g", "guest")
	require.NoError(t, host.JoinRoom(ctx, participant("h", "host")))
	require.NoError(t, guest.JoinRoom(ctx, participant("g", "guest")))

	var controls []Control
	unwatch := WatchControl(f.bus, "r1", func(c Control) { controls = append(controls, c) })
	defer unwatch()

	require.NoError(t, host.RemoveParticipant(ctx, "g"))

	roster := host.Participants(ctx)
	require.Len(t, roster, 1)
	assert.Equal(t, "h", roster[0].ID)

	msgs := host.Messages(ctx)
	assert.Equal(t, "guest foi removido da sala", msgs[len(msgs)-1].Message)
	assert.Equal(t, []Control{{Type: ControlKicked, ParticipantID: "g"}}, controls)
}

func TestRemoveUnknownParticipantIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	host := f.factory.New("r1", "h", "host")
	require.NoError(t, host.JoinRoom(ctx, participant("h", "host")))
	before := host.Messages(ctx)

	assert.NoError(t, host.RemoveParticipant(ctx, "nobody"))
	assert.Equal(t, before, host.Messages(ctx))
	assert.Len(t, host.Participants(ctx), 1)
}

func TestSubscribersSeeGrowingLog(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	writer := f.factory.New("r1", "w", "writer")
	reader := f.factory.New("r1", "r", "reader")
	rec := &recorder[models.ChatMessage]{}
	reader.OnMessagesUpdate(ctx, rec.handle)

	require.NoError(t, writer.JoinRoom(ctx, participant("w", "writer")))
	require.NoError(t, writer.SendMessage(ctx, "one"))
	require.NoError(t, writer.SendMessage(ctx, "two"))

	require.Equal(t, 4, rec.count())
	previous := []models.ChatMessage{}
	for _, call := range rec.calls {
		require.GreaterOrEqual(t, len(call), len(previous))
		assert.Equal(t, previous, call[:len(previous)])
		previous = call
	}
	assert.Equal(t, "two", previous[len(previous)-1].Message)
}

func TestWriterObservesOwnChanges(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	msgs := &recorder[models.ChatMessage]{}
	roster := &recorder[models.Participant]{}
	e.OnMessagesUpdate(ctx, msgs.handle)
	e.OnParticipantsUpdate(ctx, roster.handle)

	require.NoError(t, e.JoinRoom(ctx, participant("u1", "alice")))

	require.Len(t, roster.last(), 1)
	require.Len(t, msgs.last(), 1)
	assert.Equal(t, "alice entrou na sala", msgs.last()[0].Message)
}

func TestMultipleHandlersAllReceiveUpdates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	first := &recorder[models.ChatMessage]{}
	second := &recorder[models.ChatMessage]{}
	e.OnMessagesUpdate(ctx, first.handle)
	e.OnMessagesUpdate(ctx, second.handle)

	require.NoError(t, e.SendMessage(ctx, "hi"))

	assert.Equal(t, 2, first.count())
	assert.Equal(t, 2, second.count())
}

func TestStaleSnapshotsAreDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	require.NoError(t, e.SendMessage(ctx, "one"))
	require.NoError(t, e.SendMessage(ctx, "two"))

	rec := &recorder[models.ChatMessage]{}
	e.OnMessagesUpdate(ctx, rec.handle)
	require.Equal(t, 1, rec.count())

	require.NoError(t, f.bus.Publish(ctx, store.MessagesKey("r1"), []byte(`{"version":1,"items":[{"id":1,"message":"one"}]}`)))
	assert.Equal(t, 1, rec.count())
	assert.Len(t, rec.last(), 2)
}

func TestCleanupStopsDeliveriesAndIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}
	e.OnMessagesUpdate(ctx, rec.handle)

	e.Cleanup()
	e.Cleanup()

	other := f.factory.New("r1", "u2", "bob")
	require.NoError(t, other.SendMessage(ctx, "hi"))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, f.bus.Subscribers(store.MessagesKey("r1")))
}

func TestCorruptLogDegradesToEmpty(t *testing.T) {
	backend := store.NewMemoryBackend()
	backend.Set(context.Background(), store.MessagesKey("r1"), []byte("{not json"))
	var corrupted []string
	factory := NewFactory(backend, broadcast.NewLocalBus(), func(key string, err error) {
		corrupted = append(corrupted, key)
	})
	e := factory.New("r1", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}

	e.OnMessagesUpdate(context.Background(), rec.handle)

	require.Equal(t, 1, rec.count())
	assert.Empty(t, rec.last())
	assert.Equal(t, []string{store.MessagesKey("r1")}, corrupted)

	require.NoError(t, e.SendMessage(context.Background(), "fresh start"))
	assert.Len(t, rec.last(), 1)
}

func TestCorruptionAfterSubscribeKeepsDelivering(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}
	e.OnMessagesUpdate(ctx, rec.handle)

	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, e.SendMessage(ctx, text))
	}
	require.Equal(t, 4, rec.count())

	f.backend.Set(ctx, store.MessagesKey("r1"), []byte("{not json"))
	require.NoError(t, e.SendMessage(ctx, "d"))
	require.NoError(t, e.SendMessage(ctx, "e"))

	assert.Equal(t, 6, rec.count())
	last := rec.last()
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Message)
	assert.Equal(t, "e", last[1].Message)
}

func TestHandlerMayChangeTheRoom(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}
	replied := false
	e.OnMessagesUpdate(ctx, func(msgs []models.ChatMessage) {
		rec.handle(msgs)
		if !replied && len(msgs) == 1 && msgs[0].Message == "ping" {
			replied = true
			require.NoError(t, e.SendMessage(ctx, "pong"))
		}
	})

	other := f.factory.New("r1", "u2", "bob")
	require.NoError(t, other.SendMessage(ctx, "ping"))

	require.Equal(t, 3, rec.count())
	last := rec.last()
	require.Len(t, last, 2)
	assert.Equal(t, "pong", last[1].Message)
}

func TestHistoryLimitKeepsNewestMessages(t *testing.T) {
	f := newFixture(WithHistoryLimit(2))
	ctx := context.Background()
	e := f.factory.New("r1", "u1", "alice")
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, e.SendMessage(ctx, text))
	}

	msgs := e.Messages(ctx)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Message)
	assert.Equal(t, int64(3), msgs[1].ID)
}

func TestRoomsAreIsolated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.factory.New("r1", "u1", "alice")
	b := f.factory.New("r2", "u1", "alice")
	rec := &recorder[models.ChatMessage]{}
	b.OnMessagesUpdate(ctx, rec.handle)

	require.NoError(t, a.SendMessage(ctx, "only r1"))

	assert.Equal(t, 1, rec.count())
	assert.Empty(t, b.Messages(ctx))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "joined", Joined.String())
	assert.Equal(t, "left", Left.String())
}
