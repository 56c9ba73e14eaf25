package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"watchparty-service/internal/auth"
	"watchparty-service/internal/models"
)

type RoomDirectoryMock struct {
	mock.Mock
}

func (m *RoomDirectoryMock) ListRooms(ctx context.Context, filters models.RoomFilters) ([]models.Room, error) {
	args := m.Called(ctx, filters)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomDirectoryMock) CreateRoom(ctx context.Context, data models.CreateRoomData, hostID, hostName string) (models.Room, error) {
	args := m.Called(ctx, data, hostID, hostName)
	return roomArg(args, 0), args.Error(1)
}

func (m *RoomDirectoryMock) JoinRoom(ctx context.Context, roomID, password string) (models.Room, error) {
	args := m.Called(ctx, roomID, password)
	return roomArg(args, 0), args.Error(1)
}

func (m *RoomDirectoryMock) ListRoomsByHost(ctx context.Context, hostID string) ([]models.Room, error) {
	args := m.Called(ctx, hostID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomDirectoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	return roomArg(args, 0), args.Error(1)
}

func (m *RoomDirectoryMock) UpdateRoom(ctx context.Context, roomID, hostID string, patch models.RoomPatch) (models.Room, error) {
	args := m.Called(ctx, roomID, hostID, patch)
	return roomArg(args, 0), args.Error(1)
}

func (m *RoomDirectoryMock) EndRoom(ctx context.Context, roomID, hostID string) (models.Room, error) {
	args := m.Called(ctx, roomID, hostID)
	return roomArg(args, 0), args.Error(1)
}

func roomArg(args mock.Arguments, i int) models.Room {
	var room models.Room
	if val := args.Get(i); val != nil {
		room = val.(models.Room)
	}
	return room
}

type TokenValidatorMock struct {
	mock.Mock
}

func (m *TokenValidatorMock) ValidateToken(ctx context.Context, token string) (models.User, error) {
	args := m.Called(ctx, token)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type TicketIssuerMock struct {
	mock.Mock
}

func (m *TicketIssuerMock) Issue(claims auth.TicketClaims) (string, error) {
	args := m.Called(claims)
	return args.String(0), args.Error(1)
}

func (m *TicketIssuerMock) TTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
