package repository

import (
	"context"
	"math"

	"postboard/internal/domain"
	"postboard/internal/search"
)

// Page selects a window of an ordered result set. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows skipped before the page starts. It
// saturates at math.MaxInt, so absurd page numbers land past the end.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Size {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Size
}

// PostRepository exposes persistence operations for posts.
type PostRepository interface {
	Init(ctx context.Context) error
	List(ctx context.Context, filter search.Filter, page Page) ([]domain.Post, int, error)
	Get(ctx context.Context, id int64) (*domain.Post, error)
	Create(ctx context.Context, post *domain.Post) (int64, error)
	Update(ctx context.Context, id int64, mutate func(*domain.Post) error) (*domain.Post, error)
	Delete(ctx context.Context, id int64) error
}
