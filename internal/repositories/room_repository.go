package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"watchparty-service/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	ListActivePublic(ctx context.Context) ([]models.Room, error)
	ListByHost(ctx context.Context, hostID string) ([]models.Room, error)
	// MutateRoom loads the room under a row lock, applies fn and persists the
	// result in the same transaction. An error from fn rolls back.
	MutateRoom(ctx context.Context, roomID string, fn func(room *models.Room) error) (models.Room, error)
	CountRooms(ctx context.Context) (int, error)
}

const roomColumns = `id, name, description, host_id, host_name, category, age_rating, stream_type,
        stream_url, password_hash, max_participants, current_participants, is_public, created_at, is_active`

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom inserts a room and returns it as stored.
func (r *RoomRepo) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	query := `INSERT INTO rooms (` + roomColumns + `)
        VALUES (:id, :name, :description, :host_id, :host_name, :category, :age_rating, :stream_type,
        :stream_url, :password_hash, :max_participants, :current_participants, :is_public, :created_at, :is_active)
        RETURNING ` + roomColumns
	rows, err := r.db.NamedQueryContext(ctx, query, room)
	if err != nil {
		return models.Room{}, err
	}
	defer rows.Close()

	var created models.Room
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Room{}, err
		}
		return models.Room{}, sql.ErrNoRows
	}
	if err := rows.StructScan(&created); err != nil {
		return models.Room{}, err
	}
	return created, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListActivePublic returns every active public room, newest first.
func (r *RoomRepo) ListActivePublic(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM rooms
        WHERE is_active = TRUE AND is_public = TRUE ORDER BY created_at DESC`)
	return rooms, err
}

// ListByHost returns the rooms hosted by hostID, newest first.
func (r *RoomRepo) ListByHost(ctx context.Context, hostID string) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM rooms WHERE host_id=$1 ORDER BY created_at DESC`, hostID)
	return rooms, err
}

// MutateRoom runs fn against the locked row and writes back the mutable columns.
func (r *RoomRepo) MutateRoom(ctx context.Context, roomID string, fn func(room *models.Room) error) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.Room
	if err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1 FOR UPDATE`, roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrRoomNotFound
		}
		return models.Room{}, err
	}

	if err = fn(&room); err != nil {
		return models.Room{}, err
	}

	if _, err = tx.NamedExecContext(ctx, `UPDATE rooms SET name=:name, description=:description, stream_url=:stream_url,
        current_participants=:current_participants, is_active=:is_active WHERE id=:id`, room); err != nil {
		return models.Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// CountRooms returns the number of stored rooms.
func (r *RoomRepo) CountRooms(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM rooms`)
	return n, err
}
