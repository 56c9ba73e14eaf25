package rooms

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"watchparty-service/internal/models"
	"watchparty-service/internal/repositories"
)

var baseTime = time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

func newTestService() (*Service, *repositories.MemoryRoomRepo) {
	repo := repositories.NewMemoryRoomRepo()
	svc := NewService(repo, NewPasswordHasher(bcrypt.MinCost))
	svc.now = func() time.Time { return baseTime }
	return svc, repo
}

func seedRoom(t *testing.T, repo *repositories.MemoryRoomRepo, room models.Room) {
	t.Helper()
	_, err := repo.CreateRoom(context.Background(), room)
	require.NoError(t, err)
}

func validRoomData() models.CreateRoomData {
	return models.CreateRoomData{
		Name:            "Sessão de sábado",
		Description:     "Filmes de terror",
		Category:        "Filmes",
		AgeRating:       models.AgeRating16,
		StreamType:      models.StreamTypeYouTube,
		StreamURL:       "https://www.youtube.com/watch?v=abc123",
		MaxParticipants: 10,
		IsPublic:        true,
	}
}

func TestCreateRoomSeedsHostSeat(t *testing.T) {
	svc, _ := newTestService()

	room, err := svc.CreateRoom(context.Background(), validRoomData(), "host-1", "Host")
	require.NoError(t, err)

	assert.NotEmpty(t, room.ID)
	assert.Equal(t, 1, room.CurrentParticipants)
	assert.True(t, room.IsActive)
	assert.Equal(t, "host-1", room.HostID)
	assert.Equal(t, "Host", room.HostName)
	assert.Equal(t, baseTime, room.CreatedAt)
	assert.False(t, room.RequiresPassword())
}

func TestCreateRoomAssignsDistinctIDs(t *testing.T) {
	svc, _ := newTestService()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		room, err := svc.CreateRoom(context.Background(), validRoomData(), "h", "Host")
		require.NoError(t, err)
		assert.False(t, seen[room.ID])
		seen[room.ID] = true
	}
}

func TestCreateRoomHashesPassword(t *testing.T) {
	svc, _ := newTestService()
	data := validRoomData()
	data.Password = "segredo"

	room, err := svc.CreateRoom(context.Background(), data, "h", "Host")
	require.NoError(t, err)

	assert.True(t, room.RequiresPassword())
	assert.NotEqual(t, "segredo", room.PasswordHash)
	assert.True(t, svc.hasher.Verify("segredo", room.PasswordHash))
}

func TestCreateRoomDefaultsAgeRating(t *testing.T) {
	svc, _ := newTestService()
	data := validRoomData()
	data.AgeRating = ""

	room, err := svc.CreateRoom(context.Background(), data, "h", "Host")
	require.NoError(t, err)
	assert.Equal(t, models.AgeRatingFree, room.AgeRating)
}

func TestCreateRoomValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.CreateRoomData)
	}{
		{"blank name", func(d *models.CreateRoomData) { d.Name = "   " }},
		{"zero capacity", func(d *models.CreateRoomData) { d.MaxParticipants = 0 }},
		{"unknown age rating", func(d *models.CreateRoomData) { d.AgeRating = "21+" }},
		{"unknown stream type", func(d *models.CreateRoomData) { d.StreamType = "twitch" }},
		{"missing stream url", func(d *models.CreateRoomData) { d.StreamURL = "" }},
		{"multibyte password over 72 bytes", func(d *models.CreateRoomData) { d.Password = strings.Repeat("é", 40) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			data := validRoomData()
			tt.mutate(&data)

			_, err := svc.CreateRoom(context.Background(), data, "h", "Host")
			assert.ErrorIs(t, err, ErrInvalidRoom)
			n, _ := repo.CountRooms(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestCreateRoomAcceptsPasswordAtByteLimit(t *testing.T) {
	svc, _ := newTestService()
	data := validRoomData()
	data.Password = strings.Repeat("é", 36)

	room, err := svc.CreateRoom(context.Background(), data, "h", "Host")
	require.NoError(t, err)
	assert.True(t, room.RequiresPassword())
	assert.True(t, svc.hasher.Verify(data.Password, room.PasswordHash))
}

func TestListRoomsFiltersAndSorts(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "old", Name: "Clássicos", Category: "Filmes", AgeRating: "12+", StreamType: "youtube", IsActive: true, IsPublic: true, CreatedAt: baseTime.Add(-2 * time.Hour)})
	seedRoom(t, repo, models.Room{ID: "new", Name: "Rock", Description: "Indie e alternativo", Category: "Música", AgeRating: "livre", StreamType: "external", IsActive: true, IsPublic: true, CreatedAt: baseTime})
	seedRoom(t, repo, models.Room{ID: "private", Name: "Privada", Category: "Filmes", IsActive: true, IsPublic: false, CreatedAt: baseTime})
	seedRoom(t, repo, models.Room{ID: "ended", Name: "Encerrada", Category: "Filmes", IsActive: false, IsPublic: true, CreatedAt: baseTime})
	ctx := context.Background()

	all, err := svc.ListRooms(ctx, models.RoomFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[1].ID)

	films, err := svc.ListRooms(ctx, models.RoomFilters{Category: "Filmes"})
	require.NoError(t, err)
	require.Len(t, films, 1)
	assert.Equal(t, "old", films[0].ID)

	byStream, err := svc.ListRooms(ctx, models.RoomFilters{StreamType: "external", AgeRating: "livre"})
	require.NoError(t, err)
	require.Len(t, byStream, 1)
	assert.Equal(t, "new", byStream[0].ID)

	search, err := svc.ListRooms(ctx, models.RoomFilters{Search: "INDIE"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "new", search[0].ID)

	none, err := svc.ListRooms(ctx, models.RoomFilters{Search: "nada"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestJoinRoomUntilFull(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "r1", MaxParticipants: 2, CurrentParticipants: 1, IsActive: true})
	ctx := context.Background()

	room, err := svc.JoinRoom(ctx, "r1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, room.CurrentParticipants)

	_, err = svc.JoinRoom(ctx, "r1", "")
	assert.ErrorIs(t, err, ErrFull)

	stored, err := repo.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentParticipants)
}

func TestJoinRoomNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.JoinRoom(context.Background(), "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJoinInactiveRoomAlwaysFails(t *testing.T) {
	svc, repo := newTestService()
	hash, err := svc.hasher.Hash("pw")
	require.NoError(t, err)
	seedRoom(t, repo, models.Room{ID: "r1", MaxParticipants: 1, CurrentParticipants: 1, PasswordHash: hash, IsActive: false})

	for _, password := range []string{"", "pw", "wrong"} {
		_, err := svc.JoinRoom(context.Background(), "r1", password)
		assert.ErrorIs(t, err, ErrInactive)
	}
}

func TestJoinWithWrongPasswordDoesNotTakeSeat(t *testing.T) {
	svc, repo := newTestService()
	hash, err := svc.hasher.Hash("123456")
	require.NoError(t, err)
	seedRoom(t, repo, models.Room{ID: "r1", MaxParticipants: 5, CurrentParticipants: 1, PasswordHash: hash, IsActive: true})
	ctx := context.Background()

	for _, password := range []string{"", "12345", "1234567"} {
		_, err := svc.JoinRoom(ctx, "r1", password)
		assert.ErrorIs(t, err, ErrWrongPassword)
	}
	stored, _ := repo.GetRoom(ctx, "r1")
	assert.Equal(t, 1, stored.CurrentParticipants)

	room, err := svc.JoinRoom(ctx, "r1", "123456")
	require.NoError(t, err)
	assert.Equal(t, 2, room.CurrentParticipants)
}

func TestConcurrentJoinsNeverOverfill(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "r1", MaxParticipants: 10, CurrentParticipants: 1, IsActive: true})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.JoinRoom(context.Background(), "r1", ""); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrFull)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, joined)
	stored, _ := repo.GetRoom(context.Background(), "r1")
	assert.Equal(t, 10, stored.CurrentParticipants)
}

func TestListRoomsByHostIncludesEnded(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "a", HostID: "h", IsActive: true, CreatedAt: baseTime.Add(-time.Hour)})
	seedRoom(t, repo, models.Room{ID: "b", HostID: "h", IsActive: false, CreatedAt: baseTime})
	seedRoom(t, repo, models.Room{ID: "c", HostID: "other", IsActive: true, CreatedAt: baseTime})

	rooms, err := svc.ListRoomsByHost(context.Background(), "h")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "b", rooms[0].ID)
	assert.Equal(t, "a", rooms[1].ID)
}

func TestUpdateRoomRequiresHost(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "r1", HostID: "h", Name: "Antes", StreamURL: "https://example.com/a", IsActive: true})
	ctx := context.Background()
	name := "Depois"

	_, err := svc.UpdateRoom(ctx, "r1", "intruder", models.RoomPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotHost)

	room, err := svc.UpdateRoom(ctx, "r1", "h", models.RoomPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Depois", room.Name)
	assert.Equal(t, "https://example.com/a", room.StreamURL)
}

func TestUpdateRoomRejectsInvalidFields(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "r1", HostID: "h", Name: "Antes", IsActive: true})
	blank := " "
	badURL := "not a url"

	_, err := svc.UpdateRoom(context.Background(), "r1", "h", models.RoomPatch{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidRoom)
	_, err = svc.UpdateRoom(context.Background(), "r1", "h", models.RoomPatch{StreamURL: &badURL})
	assert.ErrorIs(t, err, ErrInvalidRoom)
}

func TestEndRoomDeactivates(t *testing.T) {
	svc, repo := newTestService()
	seedRoom(t, repo, models.Room{ID: "r1", HostID: "h", MaxParticipants: 5, CurrentParticipants: 1, IsActive: true, IsPublic: true})
	ctx := context.Background()

	_, err := svc.EndRoom(ctx, "r1", "guest")
	assert.ErrorIs(t, err, ErrNotHost)

	room, err := svc.EndRoom(ctx, "r1", "h")
	require.NoError(t, err)
	assert.False(t, room.IsActive)

	_, err = svc.JoinRoom(ctx, "r1", "")
	assert.ErrorIs(t, err, ErrInactive)
	listed, _ := svc.ListRooms(ctx, models.RoomFilters{})
	assert.Empty(t, listed)
}

func TestSeedSampleRoomsOnlyOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	n, err := svc.SeedSampleRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = svc.SeedSampleRooms(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	rooms, err := svc.ListRooms(ctx, models.RoomFilters{})
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, "3", rooms[0].ID)

	_, err = svc.JoinRoom(ctx, "3", "000000")
	assert.ErrorIs(t, err, ErrWrongPassword)
	_, err = svc.JoinRoom(ctx, "3", "123456")
	assert.NoError(t, err)
}

func TestEmbedURL(t *testing.T) {
	tests := []struct {
		name string
		room models.Room
		want string
	}{
		{"watch url", models.Room{StreamType: "youtube", StreamURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10"}, "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&controls=1"},
		{"short url", models.Room{StreamType: "youtube", StreamURL: "https://youtu.be/dQw4w9WgXcQ?si=x"}, "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1&controls=1"},
		{"unrecognised youtube", models.Room{StreamType: "youtube", StreamURL: "https://youtube.com/live"}, "https://youtube.com/live"},
		{"external", models.Room{StreamType: "external", StreamURL: "https://example.com/stream"}, "https://example.com/stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EmbedURL(tt.room))
		})
	}
}

func TestViewHidesPassword(t *testing.T) {
	view := View(models.Room{ID: "r1", PasswordHash: "$2a$hash"})
	assert.True(t, view.HasPassword)
	assert.Equal(t, "r1", view.ID)
}
