package domain

import "time"

// Post is a titled piece of content owned by a user.
type Post struct {
	ID        int64
	Title     *string `validate:"omitempty,max=255"`
	Content   *string
	UserID    int64 `validate:"required,gt=0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
