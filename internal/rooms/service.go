// Package rooms is the room directory: listing, creation, admission and host
// controls.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"watchparty-service/internal/models"
	"watchparty-service/internal/observability"
	"watchparty-service/internal/repositories"
)

var (
	ErrNotFound      = repositories.ErrRoomNotFound
	ErrInactive      = errors.New("room is not active")
	ErrWrongPassword = errors.New("wrong room password")
	ErrFull          = errors.New("room is full")
	ErrNotHost       = errors.New("only the host can do that")
	ErrInvalidRoom   = errors.New("invalid room")
)

// Service implements the room directory on top of a RoomRepository.
type Service struct {
	repo     repositories.RoomRepository
	hasher   *PasswordHasher
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(repo repositories.RoomRepository, hasher *PasswordHasher) *Service {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{repo: repo, hasher: hasher, validate: validate, now: time.Now}
}

// ListRooms returns the active public rooms matching filters, newest first.
func (s *Service) ListRooms(ctx context.Context, filters models.RoomFilters) ([]models.Room, error) {
	rooms, err := s.repo.ListActivePublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	search := strings.ToLower(filters.Search)
	out := make([]models.Room, 0, len(rooms))
	for _, room := range rooms {
		if !room.IsActive || !room.IsPublic {
			continue
		}
		if filters.Category != "" && room.Category != filters.Category {
			continue
		}
		if filters.AgeRating != "" && room.AgeRating != filters.AgeRating {
			continue
		}
		if filters.StreamType != "" && room.StreamType != filters.StreamType {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(room.Name), search) &&
			!strings.Contains(strings.ToLower(room.Description), search) {
			continue
		}
		out = append(out, room)
	}
	sortNewestFirst(out)
	return out, nil
}

// CreateRoom validates data and stores a new active room hosted by hostID.
// The host occupies the first seat.
func (s *Service) CreateRoom(ctx context.Context, data models.CreateRoomData, hostID, hostName string) (models.Room, error) {
	data.Name = strings.TrimSpace(data.Name)
	if err := s.validate.Struct(data); err != nil {
		return models.Room{}, invalid(err)
	}
	if data.AgeRating == "" {
		data.AgeRating = models.AgeRatingFree
	}

	room := models.Room{
		ID:                  uuid.New().String(),
		Name:                data.Name,
		Description:         data.Description,
		HostID:              hostID,
		HostName:            hostName,
		Category:            data.Category,
		AgeRating:           data.AgeRating,
		StreamType:          data.StreamType,
		StreamURL:           data.StreamURL,
		MaxParticipants:     data.MaxParticipants,
		CurrentParticipants: 1,
		IsPublic:            data.IsPublic,
		CreatedAt:           s.now().UTC(),
		IsActive:            true,
	}
	if len(data.Password) > MaxPasswordBytes {
		return models.Room{}, fmt.Errorf("%w: password must have at most %d bytes", ErrInvalidRoom, MaxPasswordBytes)
	}
	if data.Password != "" {
		hash, err := s.hasher.Hash(data.Password)
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.Room{}, fmt.Errorf("%w: %v", ErrInvalidRoom, err)
		}
		if err != nil {
			return models.Room{}, fmt.Errorf("hash room password: %w", err)
		}
		room.PasswordHash = hash
	}

	created, err := s.repo.CreateRoom(ctx, room)
	if err != nil {
		return models.Room{}, fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("room_id", created.ID).Str("host_id", hostID).Msg("room created")
	return created, nil
}

// JoinRoom admits one more participant. The checks and the seat increment run
// in one locked transaction so concurrent joins cannot overfill a room.
func (s *Service) JoinRoom(ctx context.Context, roomID, password string) (models.Room, error) {
	room, err := s.repo.MutateRoom(ctx, roomID, func(room *models.Room) error {
		if !room.IsActive {
			return ErrInactive
		}
		if room.RequiresPassword() && !s.hasher.Verify(password, room.PasswordHash) {
			return ErrWrongPassword
		}
		if room.CurrentParticipants >= room.MaxParticipants {
			return ErrFull
		}
		room.CurrentParticipants++
		return nil
	})
	observability.IncRoomJoin(joinOutcome(err))
	if err != nil {
		if isDirectoryError(err) {
			return models.Room{}, err
		}
		return models.Room{}, fmt.Errorf("join room %s: %w", roomID, err)
	}
	return room, nil
}

// ListRoomsByHost returns every room hosted by hostID, newest first.
func (s *Service) ListRoomsByHost(ctx context.Context, hostID string) ([]models.Room, error) {
	rooms, err := s.repo.ListByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("list rooms of host %s: %w", hostID, err)
	}
	sortNewestFirst(rooms)
	return rooms, nil
}

// GetRoom fetches a room by id.
func (s *Service) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	return s.repo.GetRoom(ctx, roomID)
}

// UpdateRoom applies patch on behalf of hostID.
func (s *Service) UpdateRoom(ctx context.Context, roomID, hostID string, patch models.RoomPatch) (models.Room, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > 100 {
			return models.Room{}, fmt.Errorf("%w: name must have 1 to 100 characters", ErrInvalidRoom)
		}
		patch.Name = &name
	}
	if patch.StreamURL != nil {
		if err := s.validate.Var(*patch.StreamURL, "required,url"); err != nil {
			return models.Room{}, fmt.Errorf("%w: streamUrl must be a valid url", ErrInvalidRoom)
		}
	}

	return s.repo.MutateRoom(ctx, roomID, func(room *models.Room) error {
		if room.HostID != hostID {
			return ErrNotHost
		}
		if patch.Name != nil {
			room.Name = *patch.Name
		}
		if patch.Description != nil {
			room.Description = *patch.Description
		}
		if patch.StreamURL != nil {
			room.StreamURL = *patch.StreamURL
		}
		return nil
	})
}

// EndRoom deactivates the room. Ending an inactive room is a no-op.
func (s *Service) EndRoom(ctx context.Context, roomID, hostID string) (models.Room, error) {
	room, err := s.repo.MutateRoom(ctx, roomID, func(room *models.Room) error {
		if room.HostID != hostID {
			return ErrNotHost
		}
		room.IsActive = false
		return nil
	})
	if err != nil {
		return models.Room{}, err
	}
	log.Info().Str("room_id", roomID).Msg("room ended")
	return room, nil
}

func sortNewestFirst(rooms []models.Room) {
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
}

func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRoom, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return fmt.Errorf("%w: %s", ErrInvalidRoom, strings.Join(fields, ", "))
}

func isDirectoryError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrWrongPassword) || errors.Is(err, ErrFull)
}

func joinOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, ErrFull):
		return "full"
	default:
		return "error"
	}
}
