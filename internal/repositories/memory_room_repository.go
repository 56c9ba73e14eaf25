package repositories

import (
	"context"
	"sort"
	"sync"

	"watchparty-service/internal/models"
)

// MemoryRoomRepo keeps rooms in process memory. It backs single-node
// deployments without DB_DSN and the service tests.
type MemoryRoomRepo struct {
	mu    sync.Mutex
	rooms map[string]models.Room
}

// NewMemoryRoomRepo constructs an empty MemoryRoomRepo.
func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{rooms: make(map[string]models.Room)}
}

func (r *MemoryRoomRepo) CreateRoom(_ context.Context, room models.Room) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
	return room, nil
}

func (r *MemoryRoomRepo) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

func (r *MemoryRoomRepo) ListActivePublic(_ context.Context) ([]models.Room, error) {
	return r.list(func(room models.Room) bool { return room.IsActive && room.IsPublic }), nil
}

func (r *MemoryRoomRepo) ListByHost(_ context.Context, hostID string) ([]models.Room, error) {
	return r.list(func(room models.Room) bool { return room.HostID == hostID }), nil
}

// MutateRoom holds the repository lock for the whole of fn.
func (r *MemoryRoomRepo) MutateRoom(_ context.Context, roomID string, fn func(room *models.Room) error) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	if err := fn(&room); err != nil {
		return models.Room{}, err
	}
	r.rooms[roomID] = room
	return room, nil
}

func (r *MemoryRoomRepo) CountRooms(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms), nil
}

func (r *MemoryRoomRepo) list(keep func(models.Room) bool) []models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Room
	for _, room := range r.rooms {
		if keep(room) {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
