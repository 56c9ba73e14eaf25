package rooms

import (
	"regexp"

	"watchparty-service/internal/models"
)

var youtubeID = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([^&\n?#]+)`)

// EmbedURL returns the player URL for room. YouTube links become embed links;
// anything else is returned as is.
func EmbedURL(room models.Room) string {
	if room.StreamType != models.StreamTypeYouTube {
		return room.StreamURL
	}
	m := youtubeID.FindStringSubmatch(room.StreamURL)
	if m == nil {
		return room.StreamURL
	}
	return "https://www.youtube.com/embed/" + m[1] + "?autoplay=1&controls=1"
}

// View is the API shape of room.
func View(room models.Room) models.RoomView {
	return models.RoomView{
		Room:        room,
		HasPassword: room.RequiresPassword(),
		EmbedURL:    EmbedURL(room),
	}
}

// Views maps View over rooms.
func Views(rooms []models.Room) []models.RoomView {
	out := make([]models.RoomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, View(room))
	}
	return out
}
