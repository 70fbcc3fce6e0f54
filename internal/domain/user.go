package domain

import "time"

// User represents an authenticated user of the system.
type User struct {
	ID           int64
	Email        string `validate:"required,email,max=255"`
	Name         string `validate:"max=255"`
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
