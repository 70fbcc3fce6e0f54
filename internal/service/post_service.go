package service

import (
	"context"
	"errors"

	"postboard/internal/domain"
	"postboard/internal/repository"
	"postboard/internal/search"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// OptionalString distinguishes an attribute that was not supplied from one
// explicitly set to null.
type OptionalString struct {
	Set   bool
	Value *string
}

// PostAttributes are the only post attributes a client may write.
type PostAttributes struct {
	Title   OptionalString
	Content OptionalString
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page  int
	Items int
	Count int
	Pages int
	Prev  *int
	Next  *int
}

// PostPage is one page of posts plus its pagination metadata.
type PostPage struct {
	Posts      []domain.Post
	Pagination Pagination
}

// PostService coordinates post operations backed by the repository.
type PostService interface {
	ListPosts(ctx context.Context, filter search.Filter, page, items int) (*PostPage, error)
	GetPost(ctx context.Context, id int64) (*domain.Post, error)
	CreatePost(ctx context.Context, ownerID int64, attrs PostAttributes) (*domain.Post, error)
	UpdatePost(ctx context.Context, id int64, attrs PostAttributes) (*domain.Post, error)
	DeletePost(ctx context.Context, id int64) error
}

type postService struct {
	posts repository.PostRepository
}

func NewPostService(posts repository.PostRepository) PostService {
	return &postService{posts: posts}
}

func (s *postService) ListPosts(ctx context.Context, filter search.Filter, page, items int) (*PostPage, error) {
	if page < 1 {
		page = DefaultPage
	}
	if items < 1 {
		items = DefaultPageSize
	}
	if items > MaxPageSize {
		items = MaxPageSize
	}

	posts, count, err := s.posts.List(ctx, filter, repository.Page{Number: page, Size: items})
	if err != nil {
		return nil, err
	}
	return &PostPage{
		Posts:      posts,
		Pagination: paginate(page, items, count),
	}, nil
}

func (s *postService) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	return s.posts.Get(ctx, id)
}

func (s *postService) CreatePost(ctx context.Context, ownerID int64, attrs PostAttributes) (*domain.Post, error) {
	post := &domain.Post{UserID: ownerID}
	attrs.apply(post)

	if err := validateStruct(post); err != nil {
		return nil, err
	}
	if _, err := s.posts.Create(ctx, post); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, invalid("User must exist")
		}
		return nil, err
	}
	return post, nil
}

func (s *postService) UpdatePost(ctx context.Context, id int64, attrs PostAttributes) (*domain.Post, error) {
	return s.posts.Update(ctx, id, func(post *domain.Post) error {
		attrs.apply(post)
		return validateStruct(post)
	})
}

func (s *postService) DeletePost(ctx context.Context, id int64) error {
	if err := s.posts.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return &DeleteError{Messages: []string{"Cannot delete record because dependent records exist"}}
		}
		return err
	}
	return nil
}

func (a PostAttributes) apply(post *domain.Post) {
	if a.Title.Set {
		post.Title = a.Title.Value
	}
	if a.Content.Set {
		post.Content = a.Content.Value
	}
}

func paginate(page, items, count int) Pagination {
	pages := (count + items - 1) / items
	if pages < 1 {
		pages = 1
	}
	p := Pagination{
		Page:  page,
		Items: items,
		Count: count,
		Pages: pages,
	}
	if page > 1 {
		prev := page - 1
		if prev > pages {
			prev = pages
		}
		p.Prev = &prev
	}
	if page < pages {
		next := page + 1
		p.Next = &next
	}
	return p
}
