package models

import "time"

// Age ratings accepted for a room.
const (
	AgeRatingFree = "livre"
	AgeRating10   = "10+"
	AgeRating12   = "12+"
	AgeRating14   = "14+"
	AgeRating16   = "16+"
	AgeRating18   = "18+"
)

// Stream types a room may embed.
const (
	StreamTypeYouTube  = "youtube"
	StreamTypeExternal = "external"
)

// AgeRatings lists the valid age ratings in display order.
var AgeRatings = []string{AgeRatingFree, AgeRating10, AgeRating12, AgeRating14, AgeRating16, AgeRating18}

// RoomCategories lists the categories offered when creating a room.
var RoomCategories = []string{
	"Música",
	"Filmes",
	"Séries",
	"Jogos",
	"Esportes",
	"Educativo",
	"Entretenimento",
	"Outros",
}

// Room is a hosted watch-party session with a shared video source.
type Room struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Description         string    `db:"description" json:"description"`
	HostID              string    `db:"host_id" json:"hostId"`
	HostName            string    `db:"host_name" json:"hostName"`
	Category            string    `db:"category" json:"category"`
	AgeRating           string    `db:"age_rating" json:"ageRating"`
	StreamType          string    `db:"stream_type" json:"streamType"`
	StreamURL           string    `db:"stream_url" json:"streamUrl"`
	PasswordHash        string    `db:"password_hash" json:"-"`
	MaxParticipants     int       `db:"max_participants" json:"maxParticipants"`
	CurrentParticipants int       `db:"current_participants" json:"currentParticipants"`
	IsPublic            bool      `db:"is_public" json:"isPublic"`
	CreatedAt           time.Time `db:"created_at" json:"createdAt"`
	IsActive            bool      `db:"is_active" json:"isActive"`
}

// RequiresPassword reports whether joining the room requires a password.
func (r Room) RequiresPassword() bool {
	return r.PasswordHash != ""
}

// RoomView is the API representation of a room.
type RoomView struct {
	Room
	HasPassword bool   `json:"hasPassword"`
	EmbedURL    string `json:"embedUrl,omitempty"`
}

// CreateRoomData carries the host-supplied fields of a new room.
type CreateRoomData struct {
	Name            string `json:"name" binding:"required" validate:"required,max=100"`
	Description     string `json:"description" validate:"max=500"`
	Category        string `json:"category"`
	AgeRating       string `json:"ageRating" validate:"omitempty,oneof=livre 10+ 12+ 14+ 16+ 18+"`
	StreamType      string `json:"streamType" validate:"required,oneof=youtube external"`
	StreamURL       string `json:"streamUrl" validate:"required,url"`
	Password        string `json:"password,omitempty" validate:"max=72"`
	MaxParticipants int    `json:"maxParticipants" validate:"min=1,max=1000"`
	IsPublic        bool   `json:"isPublic"`
}

// RoomPatch holds the fields a host may edit after creation.
type RoomPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	StreamURL   *string `json:"streamUrl,omitempty"`
}

// RoomFilters narrows a room listing.
type RoomFilters struct {
	Category   string `form:"category"`
	AgeRating  string `form:"ageRating"`
	StreamType string `form:"streamType"`
	Search     string `form:"search"`
}
