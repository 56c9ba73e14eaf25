package session

import (
	"encoding/json"

	"watchparty-service/internal/models"
)

// LoginRequest authenticates an existing account.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest creates an account. ConfirmPassword is checked locally and
// never sent.
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,min=2,max=100"`
	Username        string `json:"username" validate:"required,min=3,max=50,username"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,max=128,password"`
	ConfirmPassword string `json:"-" validate:"required,eqfield=Password"`
	BirthDate       string `json:"birthDate" validate:"required,minage"`
	Bio             string `json:"bio,omitempty" validate:"max=500"`
}

// UpdateProfileRequest carries the profile fields to change. Empty fields are
// left untouched.
type UpdateProfileRequest struct {
	Name      string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	BirthDate string `json:"birthDate,omitempty" validate:"omitempty,minage"`
	AvatarURL string `json:"avatarUrl,omitempty" validate:"omitempty,url"`
	Bio       string `json:"bio,omitempty" validate:"max=500"`
}

// ChangePasswordRequest replaces the account password.
type ChangePasswordRequest struct {
	CurrentPassword    string `json:"currentPassword" validate:"required"`
	NewPassword        string `json:"newPassword" validate:"required,min=8,max=128,password"`
	ConfirmNewPassword string `json:"-" validate:"required,eqfield=NewPassword"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// HealthResponse is the remote service health report.
type HealthResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

// FieldError is one field-scoped validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Errors    []FieldError    `json:"errors,omitempty"`
	Timestamp string          `json:"timestamp"`
}
