// Package auth issues and checks the short-lived tickets that admit a user to
// a room socket.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidTicket = errors.New("invalid room ticket")
	ErrExpiredTicket = errors.New("room ticket has expired")
)

const (
	DefaultTicketTTL = time.Minute
	ticketIssuer     = "watchparty-service"
)

// TicketClaims identify who may open a socket on which room.
type TicketClaims struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	IsHost   bool   `json:"is_host"`
	jwt.RegisteredClaims
}

// TicketManager signs tickets with an HMAC secret.
type TicketManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketManager returns a manager whose tickets live for ttl.
func NewTicketManager(secret string, ttl time.Duration) *TicketManager {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns how long issued tickets stay valid.
func (m *TicketManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a ticket for claims. Registered claims are filled in.
func (m *TicketManager) Issue(claims TicketClaims) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    ticketIssuer,
		Subject:   claims.UserID,
		Audience:  jwt.ClaimStrings{claims.RoomID},
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate checks the ticket and that it was issued for roomID.
func (m *TicketManager) Validate(ticket, roomID string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidTicket
		}
		return m.secret, nil
	},
		jwt.WithIssuer(ticketIssuer),
		jwt.WithAudience(roomID),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredTicket
		}
		return nil, ErrInvalidTicket
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid || claims.RoomID != roomID {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}
