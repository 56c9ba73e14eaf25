package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"watchparty-service/internal/models"
)

type sampleRoom struct {
	room     models.Room
	password string
	age      int // minutes since creation
}

var sampleRooms = []sampleRoom{
	{
		room: models.Room{
			ID:                  "1",
			Name:                "Noite de Filmes Clássicos",
			Description:         "Assistindo aos melhores filmes dos anos 80 e 90",
			HostID:              "sample1",
			HostName:            "CinemaLover",
			Category:            "Filmes",
			AgeRating:           models.AgeRating12,
			StreamType:          models.StreamTypeYouTube,
			StreamURL:           "https://youtube.com/watch?v=example1",
			MaxParticipants:     50,
			CurrentParticipants: 23,
			IsPublic:            true,
			IsActive:            true,
		},
		age: 60,
	},
	{
		room: models.Room{
			ID:                  "2",
			Name:                "Live Music Session",
			Description:         "Descobrindo novos artistas indie e rock alternativo",
			HostID:              "sample2",
			HostName:            "MusicExplorer",
			Category:            "Música",
			AgeRating:           models.AgeRatingFree,
			StreamType:          models.StreamTypeExternal,
			StreamURL:           "https://example.com/stream",
			MaxParticipants:     100,
			CurrentParticipants: 67,
			IsPublic:            true,
			IsActive:            true,
		},
		age: 120,
	},
	{
		room: models.Room{
			ID:                  "3",
			Name:                "Maratona de Séries",
			Description:         "Assistindo a temporada completa de uma série mistério",
			HostID:              "sample3",
			HostName:            "SeriesFan",
			Category:            "Séries",
			AgeRating:           models.AgeRating16,
			StreamType:          models.StreamTypeYouTube,
			StreamURL:           "https://youtube.com/watch?v=example3",
			MaxParticipants:     25,
			CurrentParticipants: 12,
			IsPublic:            true,
			IsActive:            true,
		},
		password: "123456",
		age:      30,
	},
}

// SeedSampleRooms stores the demo rooms when the directory is empty and
// returns how many were created.
func (s *Service) SeedSampleRooms(ctx context.Context) (int, error) {
	n, err := s.repo.CountRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	now := s.now().UTC()
	for _, sample := range sampleRooms {
		room := sample.room
		room.CreatedAt = now.Add(-time.Duration(sample.age) * time.Minute)
		if sample.password != "" {
			hash, err := s.hasher.Hash(sample.password)
			if err != nil {
				return 0, fmt.Errorf("hash sample password: %w", err)
			}
			room.PasswordHash = hash
		}
		if _, err := s.repo.CreateRoom(ctx, room); err != nil {
			return 0, fmt.Errorf("seed room %s: %w", room.ID, err)
		}
	}
	log.Info().Int("count", len(sampleRooms)).Msg("sample rooms seeded")
	return len(sampleRooms), nil
}
